package ec

import "fmt"

// Register is a single-byte offset within the EC I/O window.
type Register uint8

// Register map of the OMEN 15 EC firmware.
const (
	RegFan1Duty Register = 0x34
	RegFan2Duty Register = 0x35
	RegCPUTemp  Register = 0x57
	RegBiosCtrl Register = 0x62
	RegTimer    Register = 0x63
	RegGPUTemp  Register = 0xB7
)

// Values accepted by RegBiosCtrl.
const (
	BiosCtrlAuto   byte = 0
	BiosCtrlManual byte = 6
)

// Fan duty maxima. Both fans currently share the same ceiling but the EC treats them
// independently.
const (
	Fan1MaxDuty byte = 59
	Fan2MaxDuty byte = 59
)

func (r Register) String() string {
	switch r {
	case RegFan1Duty:
		return "fan1_duty"
	case RegFan2Duty:
		return "fan2_duty"
	case RegCPUTemp:
		return "cpu_temp"
	case RegBiosCtrl:
		return "bios_control"
	case RegTimer:
		return "timer"
	case RegGPUTemp:
		return "gpu_temp"
	default:
		return fmt.Sprintf("0x%02X", uint8(r))
	}
}
