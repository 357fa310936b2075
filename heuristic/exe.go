package heuristic

import (
	"debug/pe"
	"io"
	"os"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
)

// High-risk imports: process-memory writes, remote thread creation,
// keystroke polling, and global input hooks.
var highRiskImports = map[string]struct{}{
	"VirtualAllocEx":          {},
	"WriteProcessMemory":      {},
	"CreateRemoteThread":      {},
	"NtUnmapViewOfSection":    {},
	"SetWindowsHookEx":        {},
	"SetWindowsHookExA":       {},
	"SetWindowsHookExW":       {},
	"GetAsyncKeyState":        {},
	"RegisterRawInputDevices": {},
	"BitBlt":                  {},
	"GetForegroundWindow":     {},
}

var packerSectionTokens = []string{".upx", ".aspack", ".kkrunchy", ".mpress", ".petite"}

const (
	sectionExecutable = 0x20000000
	sectionWritable   = 0x80000000
)

type structureResult struct {
	Applicable bool     `json:"applicable"`
	Suspicious bool     `json:"suspicious"`
	IsPacked   bool     `json:"is_packed"`
	IsSigned   bool     `json:"is_signed"`
	Imports    int      `json:"imports"`
	Warnings   []string `json:"warnings,omitempty"`
}

// isExecutable reports whether the file starts with a recognized
// executable-header magic.
func isExecutable(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	head := make([]byte, 261)
	n, err := file.Read(head)
	if err != nil && err != io.EOF {
		return false
	}
	kind, err := filetype.Match(head[:n])
	if err != nil {
		return false
	}
	return kind == matchers.TypeExe
}

// analyzeStructure inspects the section table and import table of an
// executable. A file that fails to parse is treated as not applicable, never
// as suspicious: malformed headers must not crash or bias the analyzer.
func analyzeStructure(path string) structureResult {
	result := structureResult{}
	if !isExecutable(path) {
		return result
	}

	f, err := pe.Open(path)
	if err != nil {
		return result
	}
	defer f.Close()

	result.Applicable = true

	entryPoint, hasSecurityDir := optionalHeaderInfo(f)
	result.IsSigned = hasSecurityDir
	if !hasSecurityDir {
		result.Warnings = append(result.Warnings, "file is not digitally signed")
	}

	for _, section := range f.Sections {
		name := strings.TrimRight(section.Name, "\x00")
		lower := strings.ToLower(name)
		for _, token := range packerSectionTokens {
			if strings.Contains(lower, token) {
				result.IsPacked = true
				result.Suspicious = true
				result.Warnings = append(result.Warnings, "packed with: "+name)
				break
			}
		}
		if section.Characteristics&sectionExecutable != 0 && section.Characteristics&sectionWritable != 0 {
			result.Suspicious = true
			result.Warnings = append(result.Warnings, "writable+executable section: "+name)
		}
	}

	imports, err := f.ImportedSymbols()
	if err == nil {
		result.Imports = len(imports)
		for _, imp := range imports {
			// debug/pe formats imports as "Func:DLL.dll".
			funcName := imp
			if idx := strings.IndexByte(imp, ':'); idx >= 0 {
				funcName = imp[:idx]
			}
			if _, ok := highRiskImports[funcName]; ok {
				result.Suspicious = true
				result.Warnings = append(result.Warnings, "suspicious API: "+funcName)
			}
		}
	}

	if entryPoint > 0 {
		for _, section := range f.Sections {
			if section.VirtualAddress <= entryPoint && entryPoint < section.VirtualAddress+section.VirtualSize {
				name := strings.TrimRight(section.Name, "\x00")
				if name != ".text" && name != "CODE" {
					result.Suspicious = true
					result.Warnings = append(result.Warnings, "entry point in unusual section: "+name)
				}
				break
			}
		}
	}

	// Stub loaders import almost nothing; treat that as a packer signal.
	if result.Imports < 5 && !result.IsPacked {
		result.Suspicious = true
		result.IsPacked = true
		result.Warnings = append(result.Warnings, "very few imports - possibly packed")
	}

	return result
}

func optionalHeaderInfo(f *pe.File) (entryPoint uint32, hasSecurityDir bool) {
	switch hdr := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		entryPoint = hdr.AddressOfEntryPoint
		if int(pe.IMAGE_DIRECTORY_ENTRY_SECURITY) < len(hdr.DataDirectory) {
			hasSecurityDir = hdr.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_SECURITY].VirtualAddress != 0
		}
	case *pe.OptionalHeader64:
		entryPoint = hdr.AddressOfEntryPoint
		if int(pe.IMAGE_DIRECTORY_ENTRY_SECURITY) < len(hdr.DataDirectory) {
			hasSecurityDir = hdr.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_SECURITY].VirtualAddress != 0
		}
	}
	return entryPoint, hasSecurityDir
}
