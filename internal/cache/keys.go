package cache

import "fmt"

func LicenseStatusKey(licenseKey string) string {
	return fmt.Sprintf("license:status:%s", licenseKey)
}

func LicenseGenerationKey(licenseKey string) string {
	return fmt.Sprintf("license:gen:%s", licenseKey)
}
