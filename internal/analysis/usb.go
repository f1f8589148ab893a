package analysis

import (
	"os"
	"path/filepath"
	"strings"
)

// USBDevice sysfs 中一个 USB 物理设备的描述
type USBDevice struct {
	SysPath    string
	VendorID   string
	ProductID  string
	Serial     string
	Product    string
	HasStorage bool
	HasHID     bool
}

// BadUSBSuspect 同时拥有 08(存储) 和 03(HID) 接口的设备
func (d USBDevice) BadUSBSuspect() bool { return d.HasStorage && d.HasHID }

// Kind 设备分类，用于日志
func (d USBDevice) Kind() string {
	switch {
	case d.BadUSBSuspect():
		return "BADUSB_SUSPECT"
	case d.HasStorage:
		return "udisk"
	}
	return "other"
}

// FindUSBRoot 从块设备的 sysfs 路径向上查找包含 idVendor 的目录
func FindUSBRoot(sysPath string) (string, bool) {
	dir := sysPath
	// USB 设备通常在 sysfs 树的上层，最多回溯 10 层
	for i := 0; i < 10; i++ {
		dir = filepath.Dir(dir)
		if dir == "/" || dir == "." {
			break
		}
		if _, err := os.Stat(filepath.Join(dir, "idVendor")); err == nil {
			return dir, true
		}
	}
	return "", false
}

// InspectUSB 读取 USB 设备属性并统计接口类别
func InspectUSB(usbRoot string) USBDevice {
	d := USBDevice{
		SysPath:   usbRoot,
		VendorID:  ReadAttr(filepath.Join(usbRoot, "idVendor")),
		ProductID: ReadAttr(filepath.Join(usbRoot, "idProduct")),
		Serial:    ReadAttr(filepath.Join(usbRoot, "serial")),
		Product:   ReadAttr(filepath.Join(usbRoot, "product")),
	}
	entries, err := os.ReadDir(usbRoot)
	if err != nil {
		return d
	}
	for _, e := range entries {
		// 接口目录形如 1-1:1.0
		if !strings.Contains(e.Name(), ":") {
			continue
		}
		switch ReadAttr(filepath.Join(usbRoot, e.Name(), "bInterfaceClass")) {
		case "03":
			d.HasHID = true
		case "08":
			d.HasStorage = true
		}
	}
	return d
}

// ReadAttr 读取 sysfs 属性，失败时返回 "unknown"
func ReadAttr(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(b))
}
