package parser

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// StableFunctionID returns a deterministic ID for a function declaration.
// It hashes file|qualified-name|start-offset so that unchanged source yields the same ID across runs.
func StableFunctionID(relPath string, fn *FunctionDecl) string {
	base := fmt.Sprintf("%s|%s|%d", relPath, fn.QualifiedName, fn.Start)
	sum := sha1.Sum([]byte(base))
	return hex.EncodeToString(sum[:8])
}
