package policyopa

import (
	"path/filepath"
	"sort"

	cryptoinfra "auditchain/internal/infra/crypto"
)

type policyHashPayload struct {
	Files []policyHashFile `json:"files"`
}

type policyHashFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// ComputePolicyHash identifies a set of rego modules independent of the order
// they were loaded in.
func ComputePolicyHash(modules map[string][]byte) (string, error) {
	files := make([]policyHashFile, 0, len(modules))
	for name, source := range modules {
		files = append(files, policyHashFile{
			Path:   filepath.ToSlash(name),
			SHA256: cryptoinfra.SHA256Hex(source),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	canonical, err := cryptoinfra.CanonicalizeAny(policyHashPayload{Files: files})
	if err != nil {
		return "", err
	}
	return cryptoinfra.SHA256Hex(canonical), nil
}
