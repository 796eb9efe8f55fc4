package recovery

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const maxNameLength = 40

// RepairedFileName returns the name under which the repaired world is published. It starts with five random hex
// characters followed by the sanitized base name of the fail file.
func RepairedFileName(failName string) string {
	base, _, _ := strings.Cut(filepath.Base(failName), ".")

	name := make([]byte, 0, maxNameLength)
	for _, c := range []byte(strings.ToLower(base)) {
		if len(name) == maxNameLength {
			break
		}
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			name = append(name, c)
		}
	}

	return uuid.New().String()[:5] + "-" + string(name) + ".world"
}
