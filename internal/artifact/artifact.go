// Package artifact loads compiled contract artifacts produced by Hardhat or Foundry.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sentinel errors
var (
	ErrEmptyBytecode     = errors.New("popdeploy: artifact has no creation bytecode")
	ErrUnlinkedLibraries = errors.New("popdeploy: artifact has unlinked library references")
	ErrConstructorArgs   = errors.New("popdeploy: constructor arguments mismatch")
)

// Artifact is a compiled contract ready for deployment.
type Artifact struct {
	ContractName string
	SourceName   string
	ABI          abi.ABI
	RawABI       json.RawMessage
	Bytecode     []byte
}

// contractArtifact mirrors the on-disk JSON layout.
type contractArtifact struct {
	ContractName   string          `json:"contractName"`
	SourceName     string          `json:"sourceName"`
	ABI            json.RawMessage `json:"abi"`
	Bytecode       Bytecode        `json:"bytecode"`
	LinkReferences json.RawMessage `json:"linkReferences,omitempty"`
}

// Bytecode contains the contract creation bytecode.
// Hardhat stores it as a plain hex string, Foundry as {"object": "0x..."}.
type Bytecode struct {
	Object         string          `json:"object"`
	LinkReferences json.RawMessage `json:"linkReferences,omitempty"`
}

// UnmarshalJSON accepts both the Hardhat and Foundry encodings.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &b.Object)
	}

	type plain Bytecode
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = Bytecode(p)
	return nil
}

// Load reads and parses an artifact file.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	a, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	if a.ContractName == "" {
		base := filepath.Base(path)
		a.ContractName = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return a, nil
}

// Parse decodes artifact JSON.
func Parse(data []byte) (*Artifact, error) {
	var raw contractArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}

	if len(raw.ABI) == 0 {
		return nil, fmt.Errorf("artifact has no abi")
	}
	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	if hasLinks(raw.LinkReferences) || hasLinks(raw.Bytecode.LinkReferences) {
		return nil, ErrUnlinkedLibraries
	}

	code, err := decodeBytecode(raw.Bytecode.Object)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		ContractName: raw.ContractName,
		SourceName:   raw.SourceName,
		ABI:          parsed,
		RawABI:       raw.ABI,
		Bytecode:     code,
	}, nil
}

// DeployData returns the creation payload: bytecode followed by the
// ABI-encoded constructor arguments.
func (a *Artifact) DeployData(args ...interface{}) ([]byte, error) {
	if len(a.Bytecode) == 0 {
		return nil, ErrEmptyBytecode
	}

	want := len(a.ABI.Constructor.Inputs)
	if want != len(args) {
		return nil, fmt.Errorf("%w: constructor expects %d, got %d", ErrConstructorArgs, want, len(args))
	}

	packed, err := a.ABI.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("pack constructor arguments: %w", err)
	}

	data := make([]byte, 0, len(a.Bytecode)+len(packed))
	data = append(data, a.Bytecode...)
	return append(data, packed...), nil
}

// HasConstructorInputs reports whether deploying requires constructor arguments.
func (a *Artifact) HasConstructorInputs() bool {
	return len(a.ABI.Constructor.Inputs) > 0
}

func decodeBytecode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "__") {
		// Placeholders look like __$<hash>$__ or __LibName____.
		return nil, ErrUnlinkedLibraries
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	if s == "0x" || s == "0X" {
		return nil, ErrEmptyBytecode
	}

	code, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode bytecode: %w", err)
	}
	return code, nil
}

func hasLinks(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false
	}
	var links map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &links); err != nil {
		return false
	}
	return len(links) > 0
}
