package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is a compiled contract: its ABI and, when present, creation bytecode.
type Artifact struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
}

type artifactFile struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// ArtifactPaths points at optional artifact files overriding the built-in ABIs.
type ArtifactPaths struct {
	UserRank       string
	AirdropFactory string
	Airdrop        string
}

// LoadArtifact reads a hardhat style artifact ({"abi": [...], "bytecode": "0x.."})
// or a bare ABI array.
func LoadArtifact(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("read artifact: %w", err)
	}
	return ParseArtifact(data)
}

// ParseArtifact decodes artifact bytes, see LoadArtifact.
func ParseArtifact(data []byte) (Artifact, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Artifact{}, fmt.Errorf("empty artifact")
	}

	if trimmed[0] == '[' {
		parsed, err := abi.JSON(bytes.NewReader(trimmed))
		if err != nil {
			return Artifact{}, fmt.Errorf("parse abi: %w", err)
		}
		return Artifact{ABI: parsed}, nil
	}

	var file artifactFile
	if err := json.Unmarshal(trimmed, &file); err != nil {
		return Artifact{}, fmt.Errorf("parse artifact: %w", err)
	}
	if len(file.ABI) == 0 {
		return Artifact{}, fmt.Errorf("artifact has no abi")
	}
	parsed, err := abi.JSON(bytes.NewReader(file.ABI))
	if err != nil {
		return Artifact{}, fmt.Errorf("parse abi: %w", err)
	}

	artifact := Artifact{Name: file.ContractName, ABI: parsed}
	if code := strings.TrimSpace(file.Bytecode); code != "" && code != "0x" {
		if !strings.HasPrefix(code, "0x") {
			code = "0x" + code
		}
		artifact.Bytecode, err = hexutil.Decode(code)
		if err != nil {
			return Artifact{}, fmt.Errorf("decode bytecode: %w", err)
		}
	}
	return artifact, nil
}

// LoadSchemas starts from DefaultSchemas, replaces ABIs and bytecode with
// the artifacts given in paths and applies names. The result is validated.
func LoadSchemas(paths ArtifactPaths, names Names) (Schemas, error) {
	schemas, err := DefaultSchemas()
	if err != nil {
		return Schemas{}, err
	}

	if paths.UserRank != "" {
		artifact, err := LoadArtifact(paths.UserRank)
		if err != nil {
			return Schemas{}, fmt.Errorf("user rank artifact: %w", err)
		}
		schemas.Rank.ABI = artifact.ABI
		schemas.Rank.Bytecode = artifact.Bytecode
	}
	if paths.AirdropFactory != "" {
		artifact, err := LoadArtifact(paths.AirdropFactory)
		if err != nil {
			return Schemas{}, fmt.Errorf("airdrop factory artifact: %w", err)
		}
		schemas.Factory.ABI = artifact.ABI
		schemas.Factory.Bytecode = artifact.Bytecode
	}
	if paths.Airdrop != "" {
		artifact, err := LoadArtifact(paths.Airdrop)
		if err != nil {
			return Schemas{}, fmt.Errorf("airdrop artifact: %w", err)
		}
		schemas.Airdrop.ABI = artifact.ABI
	}

	if err := schemas.Rename(names); err != nil {
		return Schemas{}, err
	}
	schemas.Factory.EventABI = createdEventABI(schemas.Factory.CreatedEvent, schemas.Factory.ABI, schemas.Airdrop.ABI)

	if err := schemas.Validate(); err != nil {
		return Schemas{}, err
	}
	return schemas, nil
}
