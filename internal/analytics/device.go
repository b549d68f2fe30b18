package analytics

import (
	"regexp"

	"github.com/highlightai/highlight/pkg/models"
)

var (
	tabletPattern        = regexp.MustCompile(`(?i)tablet|ipad|playbook|silk`)
	androidPattern       = regexp.MustCompile(`(?i)android`)
	androidMobilePattern = regexp.MustCompile(`(?i)android.*mobi`)
	mobilePattern        = regexp.MustCompile(`Mobile|Android|iP(hone|od)|IEMobile|BlackBerry|Kindle|Silk-Accelerated|(hpw|web)OS|Opera M(obi|ini)`)
)

// ClassifyDevice maps a user agent to a coarse device class. Android
// without a "mobi" token is a tablet; tablet rules win over mobile ones.
func ClassifyDevice(userAgent string) models.DeviceClass {
	if tabletPattern.MatchString(userAgent) {
		return models.DeviceTablet
	}
	if androidPattern.MatchString(userAgent) && !androidMobilePattern.MatchString(userAgent) {
		return models.DeviceTablet
	}
	if mobilePattern.MatchString(userAgent) {
		return models.DeviceMobile
	}
	return models.DeviceDesktop
}
