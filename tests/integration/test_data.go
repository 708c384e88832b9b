package integration

import (
	"fmt"
	"time"
)

// TestHospital generates unique hospital credentials using a timestamp so
// parallel tests never collide on the unique email/phone columns.
func TestHospital(suffix string) (email, phone, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("admin-%d-%s@hospital.example", ts, suffix)
	phone = fmt.Sprintf("+1555%07d", ts%10000000)
	password = "Sup3r-secure-pw!"
	return
}
