package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/code-runner/client"
)

type runFlags struct {
	language  string
	input     string
	inputFile string
	timeoutMs int64
	jsonOut   bool
}

func newRunCmd(opts *options) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <file|->",
		Short: "Run a source file on the runner",
		Long: `Run sends a source file to POST /execute and prints its output.

The language is inferred from the file extension unless --language is given.
Use "-" to read the program from standard input (then --language is required).
runnerctl exits with the program's exit code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts, f, args[0])
		},
	}

	cmd.Flags().StringVarP(&f.language, "language", "l", "", "Language id (python, javascript, java, csharp, cpp)")
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "Standard input for the program")
	cmd.Flags().StringVar(&f.inputFile, "input-file", "", "Read standard input for the program from a file")
	cmd.Flags().Int64Var(&f.timeoutMs, "timeout-ms", 0, "Execution timeout in ms (0: language default)")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Print the raw result as JSON")
	return cmd
}

func runRun(cmd *cobra.Command, opts *options, f *runFlags, path string) error {
	code, err := readSource(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	lang := f.language
	if lang == "" {
		if lang = languageFor(path); lang == "" {
			return fmt.Errorf("cannot infer language from %q, pass --language", path)
		}
	}

	input := f.input
	if f.inputFile != "" {
		b, err := os.ReadFile(f.inputFile)
		if err != nil {
			return fmt.Errorf("reading input file: %w", err)
		}
		input = string(b)
	}

	req := client.Request{Code: code, Language: lang, Input: input}
	if f.timeoutMs > 0 {
		req.Timeout = &f.timeoutMs
	}

	res := opts.client().Execute(cmd.Context(), req)

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	if f.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		if res.Output != "" {
			fmt.Fprintln(out, res.Output)
		}
		if res.Error != "" {
			fmt.Fprintln(errOut, res.Error)
		}
		fmt.Fprintf(errOut, "[%s] exit %d in %dms\n", res.ExecutionID, res.ExitCode, res.ExecutionTime)
	}

	if res.ExitCode != 0 {
		code := res.ExitCode
		if code < 0 || code > 255 {
			code = 1
		}
		return exitError{code: code}
	}
	return nil
}

func readSource(stdin io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading source: %w", err)
	}
	return string(b), nil
}

// languageFor maps a file extension to a language id.
func languageFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ""
	}
	for _, l := range client.FallbackLanguages {
		if l.Extension == ext {
			return l.Name
		}
	}
	return ""
}
