package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lookbusy1344/cal-assembler/asm"
	"github.com/lookbusy1344/cal-assembler/config"
	"github.com/lookbusy1344/cal-assembler/encoder"
	"github.com/lookbusy1344/cal-assembler/loader"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"     // Version number (set by git tag at build time)
	Commit  = "unknown" // Git commit hash
	Date    = "unknown" // Build date
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		cfg = config.DefaultConfig()
	}

	var textFiles stringList
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		flexible    = flag.Bool("f", cfg.Syntax.Flexible, "Enable flexible syntax")
		identFlag   = flag.String("i", "", "Override the default module identifier")
		nameFlag    = flag.String("n", "", "Override the default module identifier (alias of -i)")
		listFile    = flag.String("l", "", "Listing file ('-' for stdout, '0' to suppress)")
		objFile     = flag.String("o", "", "Object file ('0' to suppress)")
		noStacking  = flag.Bool("s", !cfg.Assembly.SectionStacking, "Disable section stacking")
		textPath    = flag.String("T", cfg.TextPath(), "Search path for external text files")
		warnExit    = flag.Bool("w", cfg.Assembly.WarningsAreErrors, "Exit nonzero on any warnings")
		implicitExt = flag.Bool("x", cfg.Assembly.ImplicitExternals, "Implicit externals in pass 2")
		verboseMode = flag.Bool("v", false, "Verbose output")
	)
	flag.Var(&textFiles, "t", "Include an external text file before the next source file (repeatable)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("CAL Assembler %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}
	if *showHelp || flag.NArg() == 0 {
		printHelp()
		os.Exit(0)
	}

	ident := *identFlag
	if ident == "" {
		ident = *nameFlag
	}
	if ident == "" {
		ident = cfg.Assembly.DefaultIdent
	}

	now := time.Now()
	date := now.Format("01/02/06")
	clock := now.Format("15:04:05")
	jdate := fmt.Sprintf("%s/%03d", now.Format("06"), now.YearDay())

	exitCode := 0
	// The external text files from -t are included ahead of the next (the
	// first) source file; the arguments were consumed during flag scanning.
	pendingText := []string(textFiles)

	for _, srcArg := range flag.Args() {
		srcFile := srcArg
		if filepath.Ext(srcFile) == "" {
			srcFile += ".cal"
		}

		var lines []string
		for _, tf := range pendingText {
			resolved, err := findTextFile(tf, *textPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			tl, err := readLines(resolved)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading text file: %v\n", err)
				os.Exit(1)
			}
			lines = append(lines, tl...)
		}
		pendingText = nil

		srcLines, err := readLines(srcFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading source file: %v\n", err)
			os.Exit(1)
		}
		lines = append(lines, srcLines...)

		if *verboseMode {
			fmt.Printf("Assembling %s (%d lines)\n", srcFile, len(lines))
		}

		a := asm.New()
		a.ResetFile()
		a.Flexible = *flexible
		a.OldFormat = cfg.Syntax.OldFormat
		a.ImplicitExternals = *implicitExt
		a.SectionStacking = !*noStacking
		a.WarningsAreErrors = *warnExit
		a.DefaultIdent = defaultIdent(ident, srcFile)
		a.Date = date
		a.Time = clock
		a.JDate = jdate
		a.Lines = lines

		lister, closeLister, err := openLister(*listFile, srcFile, cfg, date, clock)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating listing file: %v\n", err)
			os.Exit(1)
		}
		a.Lister = lister
		lister.File(srcFile)

		enc := encoder.New(a)
		enc.Assemble()

		lister.Summary(a.ErrCount, a.WarnCount, a.GlobalMask)
		for m := a.FirstModule; m != nil; m = m.Next {
			lister.SymbolTable(m)
		}
		if closeLister != nil {
			if err := closeLister(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close listing file: %v\n", err)
			}
		}

		if err := writeObject(*objFile, srcFile, cfg, a, date, clock); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing object file: %v\n", err)
			os.Exit(1)
		}

		if *verboseMode {
			fmt.Printf("%d errors, %d warnings\n", a.ErrCount, a.WarnCount)
		}
		if a.ErrCount > 0 || (*warnExit && a.WarnCount > 0) {
			exitCode = 1
		}
	}

	os.Exit(exitCode)
}

// defaultIdent picks the identifier a module gets when the source defines
// none: the -i/-n override, else the source base name, hash-truncated over
// eight characters.
func defaultIdent(override, srcFile string) string {
	if override != "" {
		return asm.TruncateName(override)
	}
	base := filepath.Base(srcFile)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return asm.TruncateName(strings.ToUpper(base))
}

// findTextFile resolves an external text file against the -T / TEXTPATH
// search directories.
func findTextFile(name, path string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	for _, dir := range strings.FieldsFunc(path, func(r rune) bool { return r == ':' || r == ';' }) {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("text file not found: %s", name)
}

func readLines(name string) ([]string, error) {
	content, err := os.ReadFile(name) // #nosec G304 -- user-provided source path
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

// openLister resolves the -l flag: '-' lists to stdout, '0' suppresses,
// empty derives a file beside the source.
func openLister(arg, srcFile string, cfg *config.Config, date, clock string) (asm.Lister, func() error, error) {
	switch arg {
	case "0":
		return asm.NopLister{}, nil, nil
	case "-":
		return newFileLister(os.Stdout, date, clock), nil, nil
	}
	name := arg
	if name == "" {
		name = cfg.ListingPath(srcFile)
	}
	f, err := os.Create(name) // #nosec G304 -- user-specified listing path
	if err != nil {
		return nil, nil, err
	}
	return newFileLister(f, date, clock), f.Close, nil
}

// writeObject serializes every module of the file through the dataset
// layer: per-module records, then EOF, EOD and close.
func writeObject(arg, srcFile string, cfg *config.Config, a *asm.Assembler, date, clock string) (err error) {
	if arg == "0" {
		return nil
	}
	name := arg
	if name == "" {
		name = cfg.ObjectPath(srcFile)
	}
	f, err := os.Create(name) // #nosec G304 -- user-specified object path
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ds := loader.NewDataset(f)
	meta := loader.Meta{
		Date:           date,
		Time:           clock,
		OSName:         "COS",
		OSDate:         date,
		ProductName:    "CAL",
		ProductVersion: Version,
	}
	for m := a.FirstModule; m != nil; m = m.Next {
		if err := loader.WriteModule(ds, m, meta); err != nil {
			return err
		}
	}
	if err := ds.EOF(); err != nil {
		return err
	}
	if err := ds.EOD(); err != nil {
		return err
	}
	return ds.Close()
}

func printHelp() {
	fmt.Printf(`CAL Assembler %s

Usage: cal [options] <source-file>...

Assembles CAL (Cray Assembly Language) source for the Cray X-MP into
relocatable COS loader object records.

Options:
  -help              Show this help message
  -version           Show version information
  -f                 Enable flexible syntax (label:, local numeric labels,
                     column-free instructions)
  -i IDENT           Override the default module identifier
  -n IDENT           Alias of -i
  -l FILE            Listing file ('-' for stdout, '0' to suppress)
  -o FILE            Object file ('0' to suppress)
  -s                 Disable section stacking
  -T DIRS            Colon/semicolon-separated search path for external
                     text files (also from TEXTPATH)
  -t FILE            Include an external text file before the next source
                     file (repeatable)
  -w                 Exit nonzero on any warnings
  -x                 Implicit externals: pass 2 declares unknown
                     unqualified names as externals
  -v                 Verbose output

Source files default to the .cal extension. The exit code is 0 on a clean
assembly and 1 when errors occurred (or warnings, with -w).

Examples:
  # Assemble one file, writing prog.lst and prog.obj
  cal prog.cal

  # Flexible syntax, listing on stdout, no object file
  cal -f -l - -o 0 prog.cal

  # Include a system text before the source
  cal -t systext -T /usr/share/caltext prog.cal

For more information, see the README.md file.
`, Version)
}
