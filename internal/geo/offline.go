package geo

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
}

type asnReader interface {
	ASN(ip net.IP) (*geoip2.ASN, error)
}

// Offline resolves a bare IP body through MaxMind GeoLite2 Country and ASN databases.
type Offline struct {
	country countryReader
	asn     asnReader
	closers []func() error
}

var _ Resolver = (*Offline)(nil)

// OpenOffline 打开两个 mmdb 文件, 任一路径为空时对应字段返回空串。
func OpenOffline(countryPath, asnPath string) (*Offline, error) {
	if countryPath == "" && asnPath == "" {
		return nil, errors.New("internal mode requires mmdb_country_path or mmdb_asn_path")
	}
	o := &Offline{}
	if countryPath != "" {
		r, err := geoip2.Open(countryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open country mmdb: %w", err)
		}
		o.country = r
		o.closers = append(o.closers, r.Close)
	}
	if asnPath != "" {
		r, err := geoip2.Open(asnPath)
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("failed to open asn mmdb: %w", err)
		}
		o.asn = r
		o.closers = append(o.closers, r.Close)
	}
	return o, nil
}

// NewOffline builds an Offline resolver from already opened readers.
func NewOffline(country countryReader, asn asnReader) *Offline {
	return &Offline{country: country, asn: asn}
}

// Resolve 把响应体当作纯文本 IP。无法解析为 IP 时视为检测失败。
func (o *Offline) Resolve(body []byte) (Record, string, error) {
	ipStr := strings.TrimSpace(string(body))
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, "", fmt.Errorf("invalid ip in response: %q", truncate(ipStr))
	}
	return Record{
		"countryCode": o.CountryCode(ip),
		"aso":         o.ASO(ip),
	}, ipStr, nil
}

// CountryCode returns the ISO country code or "".
func (o *Offline) CountryCode(ip net.IP) string {
	if o.country == nil {
		return ""
	}
	rec, err := o.country.Country(ip)
	if err != nil || rec == nil {
		return ""
	}
	return rec.Country.IsoCode
}

// ASO returns the autonomous system organization or "".
func (o *Offline) ASO(ip net.IP) string {
	if o.asn == nil {
		return ""
	}
	rec, err := o.asn.ASN(ip)
	if err != nil || rec == nil {
		return ""
	}
	return rec.AutonomousSystemOrganization
}

func (o *Offline) Close() error {
	var errs []error
	for _, c := range o.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	o.closers = nil
	return errors.Join(errs...)
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
