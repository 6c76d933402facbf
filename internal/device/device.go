// Package device supplies the read-only platform fields stamped onto every
// event: OS, hardware model, carrier and locale.
package device

import (
	"bufio"
	"bytes"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"golang.org/x/text/language"
)

// Platform is reported for every event built by this library.
const Platform = "Go"

// Info is a snapshot of the device fields. Empty fields are omitted from
// events.
type Info struct {
	Platform     string
	AppVersion   string
	OSName       string
	OSVersion    string
	Manufacturer string
	Model        string
	Carrier      string
	Country      string
	Language     string
	AdvertiserID string
}

// Provider returns the device snapshot used at event construction time.
type Provider interface {
	Info() Info
}

// Static is a Provider that always returns the same Info.
type Static Info

// Info implements Provider.
func (s Static) Info() Info {
	return Info(s)
}

// Detect builds a Static provider for the current host. Locale comes from
// LC_ALL, LC_MESSAGES or LANG (in that order). Manufacturer and model come
// from the DMI vendor and product files when the host exposes them; no
// machine-identifying value such as the hostname is reported.
func Detect(appVersion string) Static {
	return detect(appVersion, os.DirFS("/"))
}

func detect(appVersion string, root fs.FS) Static {
	info := Info{
		Platform:     Platform,
		AppVersion:   appVersion,
		OSName:       runtime.GOOS,
		OSVersion:    osVersion(root),
		Manufacturer: readLine(root, "sys/class/dmi/id/sys_vendor"),
		Model:        readLine(root, "sys/class/dmi/id/product_name"),
	}
	if info.Model == "" {
		info.Model = runtime.GOARCH
	}
	info.Language, info.Country = ParseLocale(localeFromEnv())
	return Static(info)
}

// osVersion prefers the distribution's VERSION_ID and falls back to the
// kernel release.
func osVersion(root fs.FS) string {
	if data, err := fs.ReadFile(root, "etc/os-release"); err == nil {
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			if v, ok := strings.CutPrefix(sc.Text(), "VERSION_ID="); ok {
				if v = strings.Trim(v, `"'`); v != "" {
					return v
				}
			}
		}
	}
	return readLine(root, "proc/sys/kernel/osrelease")
}

// readLine returns the trimmed contents of a small system file, or "" when
// it is missing.
func readLine(root fs.FS, name string) string {
	data, err := fs.ReadFile(root, name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ParseLocale splits a POSIX locale such as "pt_BR.UTF-8" or a BCP 47 tag
// such as "en-GB" into a bare language subtag and a region. Unparseable
// input, "C" and "POSIX" yield empty strings.
func ParseLocale(locale string) (lang, country string) {
	if i := strings.IndexAny(locale, ".@"); i >= 0 {
		locale = locale[:i]
	}
	locale = strings.ReplaceAll(locale, "_", "-")
	if locale == "" || locale == "C" || locale == "POSIX" {
		return "", ""
	}

	tag, err := language.Parse(locale)
	if err != nil {
		return "", ""
	}
	base, _ := tag.Base()
	lang = base.String()
	if region, conf := tag.Region(); conf == language.Exact {
		country = region.String()
	}
	return lang, country
}

func localeFromEnv() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
