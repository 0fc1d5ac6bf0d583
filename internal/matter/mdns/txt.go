package mdns

import (
	"strconv"
	"strings"
	"time"

	"matterctl/internal/matter/mdnscache"
)

// ParseTXTFields decodes the Matter TXT key/value pairs (spec §4.D.3) into
// mdnscache.TXTFields. Unknown keys are ignored; malformed numeric values
// are skipped for that key only, matching spec §7's "malformed records are
// dropped with a debug log" policy applied at field granularity rather
// than failing the whole record.
func ParseTXTFields(strs []string) mdnscache.TXTFields {
	var f mdnscache.TXTFields
	for _, kv := range strs {
		key, value, ok := splitTXTPair(kv)
		if !ok {
			continue
		}
		switch key {
		case "SII":
			f.SII = parseMillisDuration(value)
		case "SAI":
			f.SAI = parseMillisDuration(value)
		case "SAT":
			f.SAT = parseMillisDuration(value)
		case "T":
			f.T = parseUint32(value)
		case "DT":
			f.DT = parseUint32(value)
		case "PH":
			f.PH = uint8(parseUint32(value))
		case "ICD":
			f.ICD = value == "1"
		case "D":
			f.D = uint16(parseUint32(value))
		case "SD":
			f.SD = uint8(parseUint32(value))
		case "CM":
			f.CM = uint8(parseUint32(value))
		case "VP":
			f.VP = value
			splitVP(value, &f)
		case "DN":
			f.DN = value
		case "RI":
			f.RI = value
		case "PI":
			f.PI = value
		}
	}
	return f
}

func splitTXTPair(kv string) (key, value string, ok bool) {
	idx := strings.IndexByte(kv, '=')
	if idx <= 0 {
		return "", "", false
	}
	return kv[:idx], kv[idx+1:], true
}

func parseMillisDuration(s string) time.Duration {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}

func parseUint32(s string) uint32 {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// splitVP splits a "V+P" combined token into its vendor/product fields
// (spec §4.D.5: "split VP into V and P").
func splitVP(vp string, f *mdnscache.TXTFields) {
	idx := strings.IndexByte(vp, '+')
	if idx < 0 {
		return
	}
	if v, err := strconv.ParseUint(vp[:idx], 10, 16); err == nil {
		f.V = uint16(v)
	}
	if p, err := strconv.ParseUint(vp[idx+1:], 10, 16); err == nil {
		f.P = uint16(p)
	}
}
