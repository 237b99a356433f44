package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"gocompile/pkg/asm"
	"gocompile/pkg/compiler"
	"gocompile/pkg/cpu"
	"gocompile/pkg/diag"
)

// Stable artifact names, used as persistence keys and export file names.
const (
	KeyCode                  = "code"
	KeyTokens                = "tokens"
	KeyParseTree             = "parseTree"
	KeyAST                   = "abstractSyntaxTree"
	KeySymbolTables          = "symbolTables"
	KeyIntermediateCode      = "intermediateCode"
	KeyOptimizedIR           = "optimizedIR"
	KeyOptimizedCode         = "optimizedCode"
	KeyAssemblyCode          = "assemblyCode"
	KeyRegistersAssemblyCode = "registersAssemblyCode"
	KeyScheduledAssemblyCode = "scheduledAssemblyCode"
	KeyMemoryExecutionSteps  = "memoryExecutionSteps"
	KeyDiagnostics           = "diagnostics"
)

// stageKeys maps every stage to the artifacts it produces.
var stageKeys = [...][]string{
	Empty:         {KeyCode},
	Lexed:         {KeyTokens},
	Parsed:        {KeyParseTree},
	ASTBuilt:      {KeyAST},
	SymbolsBuilt:  {KeySymbolTables},
	IRGenerated:   {KeyIntermediateCode},
	Optimized:     {KeyOptimizedIR, KeyOptimizedCode},
	CodeGenerated: {KeyAssemblyCode},
	Allocated:     {KeyRegistersAssemblyCode},
	Scheduled:     {KeyScheduledAssemblyCode},
	Simulated:     {KeyMemoryExecutionSteps},
}

// ArtifactNames lists every artifact name in pipeline order, diagnostics last.
func ArtifactNames() []string {
	var out []string
	for _, keys := range stageKeys {
		out = append(out, keys...)
	}
	return append(out, KeyDiagnostics)
}

// Artifacts returns the names of the artifacts stage produces.
func (s Stage) Artifacts() []string {
	if !s.valid() {
		return nil
	}
	return append([]string(nil), stageKeys[s]...)
}

// stageOf returns the stage that produces the artifact called name.
func stageOf(name string) (Stage, bool) {
	for st, keys := range stageKeys {
		for _, k := range keys {
			if k == name {
				return Stage(st), true
			}
		}
	}
	return Empty, false
}

// IsText reports whether an artifact is stored as plain text rather than JSON.
func IsText(name string) bool {
	switch name {
	case KeyCode, KeyIntermediateCode, KeyOptimizedIR, KeyOptimizedCode,
		KeyAssemblyCode, KeyRegistersAssemblyCode, KeyScheduledAssemblyCode:
		return true
	}
	return false
}

// encode returns the canonical serialized form of one artifact in a.
func (a *artifacts) encode(name string) ([]byte, error) {
	switch name {
	case KeyCode:
		return []byte(a.code), nil
	case KeyTokens:
		return json.Marshal(a.tokens)
	case KeyParseTree:
		return json.Marshal(a.parseTree)
	case KeyAST:
		return json.Marshal(a.ast)
	case KeySymbolTables:
		return json.Marshal(a.symbols)
	case KeyIntermediateCode:
		return []byte(a.ir.String()), nil
	case KeyOptimizedIR:
		return []byte(a.optimizedIR.String()), nil
	case KeyOptimizedCode:
		return []byte(a.optimizedCode), nil
	case KeyAssemblyCode:
		return encodeListing(a.assembly), nil
	case KeyRegistersAssemblyCode:
		return encodeListing(a.registers), nil
	case KeyScheduledAssemblyCode:
		return encodeListing(a.scheduled), nil
	case KeyMemoryExecutionSteps:
		return json.Marshal(a.steps)
	case KeyDiagnostics:
		byStage := make(map[string][]diag.Diagnostic, len(a.diags))
		for st, ds := range a.diags {
			byStage[st.String()] = ds
		}
		return json.Marshal(byStage)
	}
	return nil, fmt.Errorf("unknown artifact %q", name)
}

// decode parses data into the artifact called name. Nothing is changed
// when data is not a valid encoding.
func (a *artifacts) decode(name string, data []byte) error {
	switch name {
	case KeyCode:
		a.code = string(data)
	case KeyTokens:
		var v []compiler.Token
		if err := unmarshal(data, &v); err != nil {
			return err
		}
		a.tokens = v
	case KeyParseTree:
		var v *compiler.ParseNode
		if err := unmarshal(data, &v); err != nil {
			return err
		}
		a.parseTree = v
	case KeyAST:
		var v *compiler.ASTNode
		if err := unmarshal(data, &v); err != nil {
			return err
		}
		a.ast = v
	case KeySymbolTables:
		var v []compiler.SymbolTable
		if err := unmarshal(data, &v); err != nil {
			return err
		}
		a.symbols = v
	case KeyIntermediateCode, KeyOptimizedIR:
		p, err := compiler.ParseIR(string(data))
		if err != nil {
			return err
		}
		if name == KeyIntermediateCode {
			a.ir = p
		} else {
			a.optimizedIR = p
		}
	case KeyOptimizedCode:
		a.optimizedCode = string(data)
	case KeyAssemblyCode, KeyRegistersAssemblyCode, KeyScheduledAssemblyCode:
		ls, err := decodeListing(data)
		if err != nil {
			return err
		}
		switch name {
		case KeyAssemblyCode:
			a.assembly = ls
		case KeyRegistersAssemblyCode:
			a.registers = ls
		default:
			a.scheduled = ls
		}
	case KeyMemoryExecutionSteps:
		var v []cpu.Step
		if err := unmarshal(data, &v); err != nil {
			return err
		}
		a.steps = v
	case KeyDiagnostics:
		var byStage map[string][]diag.Diagnostic
		if err := json.Unmarshal(data, &byStage); err != nil {
			return err
		}
		ds := make(map[Stage][]diag.Diagnostic, len(byStage))
		for name, list := range byStage {
			st, err := ParseStage(name)
			if err != nil {
				return err
			}
			ds[st] = list
		}
		a.diags = ds
	default:
		return fmt.Errorf("unknown artifact %q", name)
	}
	return nil
}

// unmarshal is json.Unmarshal that also rejects a JSON null, which would
// otherwise decode into an absent artifact.
func unmarshal(data []byte, v any) error {
	if strings.TrimSpace(string(data)) == "null" {
		return fmt.Errorf("null artifact")
	}
	return json.Unmarshal(data, v)
}

func encodeListing(ls []string) []byte {
	return []byte(strings.Join(ls, "\n") + "\n")
}

// decodeListing splits stored text back into lines and checks that it is
// still a valid listing.
func decodeListing(data []byte) ([]string, error) {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, fmt.Errorf("empty listing")
	}
	ls := strings.Split(text, "\n")
	if _, err := asm.Parse(ls); err != nil {
		return nil, err
	}
	return ls, nil
}
