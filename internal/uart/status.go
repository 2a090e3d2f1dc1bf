package uart

import "strings"

// ParseStatus extracts the KEY:VALUE tokens from a transaction's STATUS
// line. The controller reports its state as a single sentinel line, e.g.
//
//	STATUS X:1400 Y:119.5 FIRE:OFF
//
// Lines before the sentinel are ignored. Returns an empty map when the
// transaction carries no STATUS line or a token is malformed enough to skip.
func ParseStatus(tx Transaction) map[string]string {
	status := map[string]string{}
	for _, line := range tx.Lines {
		if !strings.HasPrefix(line, StatusPrefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, StatusPrefix))
		for _, field := range fields {
			key, value, ok := strings.Cut(field, ":")
			if !ok || key == "" {
				continue
			}
			status[key] = value
		}
	}
	return status
}
