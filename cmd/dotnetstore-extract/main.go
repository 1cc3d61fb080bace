package main

import (
	"bufio"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/provide-io/dotnetstore-extract/internal/obslog"
	dotnetstore "github.com/provide-io/dotnetstore-extract/pkg"
)

const version = "0.1.0"

var (
	inputDir  string
	outputDir string
	logLevel  string
	dryRun    bool
	maxLZ4    int
	rootCmd   *cobra.Command
	versionFl bool
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "dotnetstore-extract",
		Short: "Extract managed assemblies from AssemblyStore blobs",
		Long:  `Extract managed .NET assemblies packaged in AssemblyStore (XABA) blobs into individual PE/CLI files.`,
		Run:   runExtract,
	}

	rootCmd.Flags().StringVarP(&inputDir, "input", "i", "", "Input directory containing .blob files and assemblies.manifest")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory for extracted assemblies")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and validate without writing any files")
	rootCmd.Flags().IntVar(&maxLZ4, "max-lz4-size", 0, "Ceiling in bytes for LZ4-decompressed payloads (0 = decoder default)")
	rootCmd.Flags().BoolVarP(&versionFl, "version", "V", false, "Show version information")
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "PANIC: %v\n", r)
			debug.PrintStack()
			os.Exit(2)
		}
	}()

	// Handle --version/-V before cobra parses anything else.
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-V") {
		fmt.Printf("dotnetstore-extract %s\n", version)
		return
	}

	// Legacy positional form: <program> <input_dir> <output_dir>.
	// Cobra's own flag set stays available for everything else, so only
	// intercept when both args look like bare paths (no leading dash)
	// and no flags were requested.
	if len(os.Args) == 3 && !strings.HasPrefix(os.Args[1], "-") && !strings.HasPrefix(os.Args[2], "-") {
		runLegacy(os.Args[1], os.Args[2])
		return
	}
	if len(os.Args) == 1 {
		in, out := promptForPaths()
		runLegacy(in, out)
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runExtract(cmd *cobra.Command, args []string) {
	if versionFl {
		fmt.Printf("dotnetstore-extract %s\n", version)
		return
	}
	if inputDir == "" || outputDir == "" {
		fmt.Fprintln(os.Stderr, "--input and --output are required")
		os.Exit(1)
	}
	execute(inputDir, outputDir)
}

// runLegacy serves the bare "<program> <input_dir> <output_dir>" form,
// bypassing cobra's own flag handling entirely.
func runLegacy(in, out string) {
	execute(in, out)
}

func promptForPaths() (string, string) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Input directory: ")
	in, _ := reader.ReadString('\n')
	fmt.Print("Output directory: ")
	out, _ := reader.ReadString('\n')
	return strings.TrimSpace(in), strings.TrimSpace(out)
}

func execute(in, out string) {
	logger := obslog.NewLogger("dotnetstore-extract", effectiveLogLevel(), nil)

	report, err := dotnetstore.Run(dotnetstore.Options{
		InputDir:            in,
		OutputDir:           out,
		DryRun:              dryRun,
		MaxUncompressedSize: maxLZ4,
		Logger:              logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if !report.ManifestFound {
		logger.Warn("no assemblies.manifest found; stores were handled via the recovery scanner")
	}
	for _, s := range report.Stores {
		if s.Skipped {
			logger.Warn("store skipped", "store", s.BaseName, "reason", s.SkipReason)
			continue
		}
		logger.Info("store processed",
			"store", s.BaseName,
			"recovered", s.Recovered,
			"extracted", s.Summary.Extracted,
			"invalid", s.Summary.Invalid,
			"skipped", s.Summary.Skipped,
		)
	}
	if report.ConversionLog != "" {
		fmt.Printf("Conversion log: %s\n", report.ConversionLog)
	}

	extracted := color.New(color.FgGreen).SprintFunc()
	invalid := color.New(color.FgRed).SprintFunc()
	fmt.Printf("Extracted %s assemblies (%s invalid) across %d store(s)\n",
		extracted(report.TotalExtracted), invalid(report.TotalInvalid), len(report.Stores))

	// Exit code 0 on normal completion, including "no valid assemblies
	// extracted".
	os.Exit(0)
}

func effectiveLogLevel() string {
	if logLevel != "" {
		return logLevel
	}
	return obslog.GetLogLevel()
}
