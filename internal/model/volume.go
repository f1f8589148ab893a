package model

import "strings"

// DriveType 卷类型
type DriveType uint8

const (
	DriveUnknown DriveType = iota
	DriveNoRoot
	DriveRemovable
	DriveFixed
	DriveNetwork
	DriveOptical
	DriveRAM
)

var driveTypeNames = [...]string{
	DriveUnknown:   "Unknown",
	DriveNoRoot:    "NoRootDirectory",
	DriveRemovable: "Removable",
	DriveFixed:     "Fixed",
	DriveNetwork:   "Network",
	DriveOptical:   "CDRom",
	DriveRAM:       "Ram",
}

func (d DriveType) String() string {
	if int(d) < len(driveTypeNames) {
		return driveTypeNames[d]
	}
	return "Unknown"
}

// Supported 只有这几类卷参与状态机
func (d DriveType) Supported() bool {
	switch d {
	case DriveFixed, DriveRemovable, DriveNetwork, DriveRAM, DriveOptical:
		return true
	}
	return false
}

// ParseDriveType 解析配置中的卷类型名，大小写不敏感
func ParseDriveType(name string) (DriveType, bool) {
	for i, n := range driveTypeNames {
		if strings.EqualFold(n, name) {
			return DriveType(i), true
		}
	}
	switch strings.ToLower(name) {
	case "optical", "cdrom":
		return DriveOptical, true
	case "ram", "ramdisk":
		return DriveRAM, true
	}
	return DriveUnknown, false
}

// VolumeEventType 卷的最后一次状态
type VolumeEventType uint8

const (
	VolumeInitial VolumeEventType = iota
	VolumeStateInserted
	VolumeStateRemoved
)

func (v VolumeEventType) String() string {
	switch v {
	case VolumeStateInserted:
		return "Inserted"
	case VolumeStateRemoved:
		return "Removed"
	}
	return "Initial"
}

// VolumeState 每个盘符的状态
type VolumeState struct {
	DriveType DriveType
	EventType VolumeEventType
	Root      string
}

// DeviceChange 推送路径上的设备变更通知 (位掩码，最低位对应 A)
type DeviceChange struct {
	Mask    uint32
	Arrival bool
}

// DriveLetter 把 0..25 转成 'A'..'Z'
func DriveLetter(idx int) byte { return byte('A' + idx) }

// DriveIndex 把盘符转成 0..25，非法返回 -1
func DriveIndex(letter byte) int {
	if letter >= 'a' && letter <= 'z' {
		letter -= 'a' - 'A'
	}
	if letter < 'A' || letter > 'Z' {
		return -1
	}
	return int(letter - 'A')
}
