package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yungtweek/chunkback/internal/cbpl"
)

// stepView is the printable form of a compiled step.
type stepView struct {
	Verb           string `yaml:"verb"`
	Content        string `yaml:"content,omitempty"`
	Size           int    `yaml:"size,omitempty"`
	Tool           string `yaml:"tool,omitempty"`
	Arguments      string `yaml:"args,omitempty"`
	Answer         string `yaml:"answer,omitempty"`
	ChunkSize      *int   `yaml:"chunk_size,omitempty"`
	ChunkLatencyMs *int   `yaml:"chunk_latency_ms,omitempty"`
}

func newCompileCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "compile [file]",
		Short: "Compile a prompt and print its steps as YAML",
		Long: `Compile reads a prompt from file (or stdin when no file or "-" is given)
and prints the executable steps. With --strict every non-instruction line is
reported and the command fails.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readPrompt(cmd, args)
			if err != nil {
				return err
			}

			compiled, cerr := cbpl.CompileStrict(src)
			if err := writeSteps(cmd.OutOrStdout(), compiled); err != nil {
				return err
			}
			if !strict || cerr == nil {
				return nil
			}
			lines := cbpl.LineErrors(cerr)
			for _, le := range lines {
				fmt.Fprintln(cmd.ErrOrStderr(), le.Error())
			}
			return fmt.Errorf("%d unrecognized line(s)", len(lines))
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on lines that are not instructions")
	return cmd
}

func newLexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lex [file]",
		Short: "Print the token stream of a prompt",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readPrompt(cmd, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, tok := range cbpl.Lex(src) {
				fmt.Fprintln(out, tok.String())
			}
			return nil
		},
	}
}

func readPrompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeSteps(w io.Writer, p cbpl.CompiledPrompt) error {
	views := make([]stepView, 0, len(p.Steps))
	for _, st := range p.Steps {
		v := stepView{
			Verb:           st.Verb(),
			ChunkSize:      st.ChunkSize,
			ChunkLatencyMs: st.ChunkLatencyMs,
		}
		switch c := st.Command.(type) {
		case cbpl.Say:
			v.Content = c.Content
			v.Size = len([]rune(c.Content))
		case cbpl.ToolCall:
			v.Tool = c.ToolName
			v.Arguments = c.Arguments
			v.Answer = c.Answer
		}
		views = append(views, v)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(views); err != nil {
		return err
	}
	return enc.Close()
}
