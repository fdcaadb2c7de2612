package domain

import "crypto/tls"

// ConnectionSpec is an immutable bundle of TLS parameters that can be applied
// to a socket and iterated as a fallback sequence.
type ConnectionSpec struct {
	Name                  string
	TLSVersions           []uint16
	CipherSuites          []uint16
	SupportsTLSExtensions bool
	IsCleartext           bool
}

// ModernTLS is the preferred spec: current TLS versions, no cipher restriction
// (the runtime negotiates its modern default suite list).
var ModernTLS = ConnectionSpec{
	Name:                  "modern",
	TLSVersions:           []uint16{tls.VersionTLS13, tls.VersionTLS12},
	SupportsTLSExtensions: true,
}

// CompatibleTLS is the fallback spec for peers that reject modern parameters.
var CompatibleTLS = ConnectionSpec{
	Name:                  "compatible",
	TLSVersions:           []uint16{tls.VersionTLS12, tls.VersionTLS11, tls.VersionTLS10},
	SupportsTLSExtensions: true,
}

// Cleartext is used for plain HTTP/H2-prior-knowledge addresses; it never
// performs a handshake.
var Cleartext = ConnectionSpec{
	Name:        "cleartext",
	IsCleartext: true,
}

// DefaultConnectionSpecs is the fallback sequence tried in order, mirroring
// the ordered (ConnectionSpec...) list every AddressKey carries.
var DefaultConnectionSpecs = []ConnectionSpec{ModernTLS, CompatibleTLS}

// minTLSVersion returns the lowest enabled protocol version in the spec,
// which is what a tls.Config wants for MinVersion.
func (c ConnectionSpec) minTLSVersion() uint16 {
	min := uint16(0)
	for _, v := range c.TLSVersions {
		if min == 0 || v < min {
			min = v
		}
	}
	return min
}

func (c ConnectionSpec) maxTLSVersion() uint16 {
	var max uint16
	for _, v := range c.TLSVersions {
		if v > max {
			max = v
		}
	}
	return max
}

// Apply configures a tls.Config's version/cipher bounds for this spec,
// without touching ServerName/NextProtos (those are address-specific and
// are filled in by the caller).
func (c ConnectionSpec) Apply(cfg *tls.Config) {
	if c.IsCleartext {
		return
	}
	if v := c.minTLSVersion(); v != 0 {
		cfg.MinVersion = v
	}
	if v := c.maxTLSVersion(); v != 0 {
		cfg.MaxVersion = v
	}
	if len(c.CipherSuites) > 0 {
		cfg.CipherSuites = c.CipherSuites
	}
}

// MinTLSVersion returns the lowest TLS version this spec enables, or 0 for
// a cleartext spec. Exposed for callers (ConnectPlan's fallback walk) that
// need the floor of the spec that just failed.
func (c ConnectionSpec) MinTLSVersion() uint16 {
	return c.minTLSVersion()
}

// IsCompatibleWith reports whether this spec's enabled protocol range has any
// overlap with the capabilities the socket actually negotiated, used to pick
// the "next compatible ConnectionSpec" during TLS fallback.
func (c ConnectionSpec) IsCompatibleWith(negotiatedVersion uint16) bool {
	if c.IsCleartext {
		return true
	}
	return negotiatedVersion >= c.minTLSVersion() && negotiatedVersion <= c.maxTLSVersion()
}

// TLSFallbackSequence walks DefaultConnectionSpecs (or a caller-supplied list)
// starting after a given index, returning the next spec that is compatible.
type TLSFallbackSequence struct {
	Specs []ConnectionSpec
}

func NewTLSFallbackSequence(specs []ConnectionSpec) TLSFallbackSequence {
	if len(specs) == 0 {
		specs = DefaultConnectionSpecs
	}
	return TLSFallbackSequence{Specs: specs}
}

// Next returns the index of the next spec after `from` that is compatible
// with floorVersion -- the minimum TLS version the just-failed spec
// required -- and true, or (0, false) if the sequence is exhausted. This
// skips any caller-supplied spec in the middle of the list that could never
// succeed having already failed at floorVersion (the built-in
// DefaultConnectionSpecs list is strictly descending, so this never skips
// anything for it).
func (s TLSFallbackSequence) Next(from int, floorVersion uint16) (int, bool) {
	for i := from + 1; i < len(s.Specs); i++ {
		if s.Specs[i].IsCompatibleWith(floorVersion) {
			return i, true
		}
	}
	return 0, false
}

func (s TLSFallbackSequence) At(index int) ConnectionSpec {
	return s.Specs[index]
}
