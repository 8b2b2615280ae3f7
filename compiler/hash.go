package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// hashRequest derives the compile-cache key for a request. Content
// hashing has no domain-specific library beyond what crypto/sha256
// already provides, so this stays on the standard library (see
// DESIGN.md).
func hashRequest(r CompilationRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%v|%d|%d|%s|%s|%c|%c|%d|%v",
		r.NormalizedText, r.ExtractedLiterals, r.ProtocolMajor, r.ProtocolMinor,
		r.SchemaVersion, r.Language, r.OutputFormat, r.Cardinality, r.ImplicitLimit, r.Inline)

	for _, k := range sortedKeys(r.ModAliases) {
		fmt.Fprintf(h, "|ma:%s=%s", k, r.ModAliases[k])
	}
	for _, k := range sortedKeys(r.SessionConfig) {
		fmt.Fprintf(h, "|sc:%s=%s", k, r.SessionConfig[k])
	}
	for _, k := range sortedKeys(r.DatabaseConfig) {
		fmt.Fprintf(h, "|dc:%s=%s", k, r.DatabaseConfig[k])
	}
	for _, k := range sortedKeys(r.SystemConfig) {
		fmt.Fprintf(h, "|xc:%s=%s", k, r.SystemConfig[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}

	return keys
}
