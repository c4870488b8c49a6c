package host

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultDMIDir is the sysfs directory exposing firmware DMI strings.
const DefaultDMIDir = "/sys/class/dmi/id"

// Firmware placeholders that carry no information.
const (
	placeholderVendor  = "System manufacturer"
	placeholderProduct = "System Product Name"
)

// ReadDMI returns the system vendor and product name from dir. Missing
// files, empty values, and firmware placeholders yield "".
func ReadDMI(dir string) (manufacturer, model string) {
	if dir == "" {
		dir = DefaultDMIDir
	}
	return readDMIField(dir, "sys_vendor", placeholderVendor),
		readDMIField(dir, "product_name", placeholderProduct)
}

func readDMIField(dir, name, placeholder string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	v := strings.TrimSpace(string(data))
	if v == placeholder {
		return ""
	}
	return v
}
