package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"spiritcore/internal/core"
)

type attachFlags struct {
	file       string
	phase      string
	biotype    string
	renumber   bool
	start      int
	weights    bool
	weightUnit string
}

func newAttachCommand(o *RootOptions) *cobra.Command {
	f := &attachFlags{}
	cmd := &cobra.Command{
		Use:   "attach <study>",
		Short: "Replace a study's participants from a CSV file",
		Long: `Attach reads rows with the header
  sample_id,sample_name,group,subgroup,container,weight
(only sample_id is required; group is a short name, subgroup is 1-based).

Rows without a subgroup are allocated to the first subgroup with room.
Participants missing from the file are detached; with --phase only those
whose group starts at that phase are.`,
		Args: cobra.ExactArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return runAttach(cmd, a, f, args[0])
		}),
	}
	cmd.Flags().StringVarP(&f.file, "file", "f", "-", "CSV file to read, - for stdin")
	cmd.Flags().StringVar(&f.phase, "phase", "", "only detach participants of groups starting at this phase")
	cmd.Flags().StringVar(&f.biotype, "biotype", "", "biotype for newly created biosamples")
	cmd.Flags().BoolVar(&f.renumber, "renumber", false, "assign sequential sample names")
	cmd.Flags().IntVar(&f.start, "start", 0, "first number when renumbering (default: after the highest existing)")
	cmd.Flags().BoolVar(&f.weights, "weights", false, "record the weight column at --phase")
	cmd.Flags().StringVar(&f.weightUnit, "unit", "g", "unit of the weight column")
	return cmd
}

func runAttach(cmd *cobra.Command, a *app, f *attachFlags, studyRef string) error {
	ctx := cmd.Context()
	st, err := a.study(ctx, studyRef)
	if err != nil {
		return err
	}
	in := cmd.InOrStdin()
	if f.file != "-" {
		file, err := os.Open(f.file)
		if err != nil {
			return WrapExitError(ExitCommandError, "open rows", err)
		}
		defer func() { _ = file.Close() }()
		in = file
	}
	rows, err := readRows(in, func(ref string) (string, error) {
		g, err := a.group(ctx, st, ref)
		return g.ID, err
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "read rows", err)
	}
	req := core.AttachRequest{
		StudyID:        st.ID,
		Rows:           rows,
		Biotype:        f.biotype,
		Renumber:       f.renumber,
		CaptureWeights: f.weights,
		WeightUnit:     f.weightUnit,
	}
	if f.phase != "" {
		p, err := a.phase(ctx, st, f.phase)
		if err != nil {
			return err
		}
		req.PhaseID = &p.ID
	}
	if cmd.Flags().Changed("start") {
		req.RenumberStart = &f.start
	}
	outcome, err := a.svc.Attach(ctx, a.session, req)
	if err != nil {
		return err
	}
	a.changed(ctx)
	out := cmd.OutOrStdout()
	for _, c := range outcome.Clones {
		if _, err := fmt.Fprintf(out, "cloned %s -> %s\n", c.SourceSampleID, c.NewSampleID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(out, "created %d, updated %d, detached %d, results %d\n",
		len(outcome.Created), len(outcome.Updated), len(outcome.Detached), len(outcome.Results))
	return err
}

// readRows parses attachment rows; resolveGroup maps a group reference to its id.
func readRows(r io.Reader, resolveGroup func(string) (string, error)) ([]core.AttachedBiosample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["sample_id"]; !ok {
		return nil, errors.New("missing sample_id column")
	}
	var rows []core.AttachedBiosample
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		get := func(col string) string {
			i, ok := cols[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		row := core.AttachedBiosample{SampleID: get("sample_id"), SampleName: get("sample_name")}
		if ref := get("group"); ref != "" {
			id, err := resolveGroup(ref)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			row.GroupID = &id
		}
		if v := get("subgroup"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("line %d: subgroup %q must be a positive number", line, v)
			}
			n--
			row.SubGroup = &n
		}
		if v := get("container"); v != "" {
			row.ContainerID = &v
		}
		if v := get("weight"); v != "" {
			w, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: weight %q: %w", line, v, err)
			}
			row.Weight = &w
		}
		rows = append(rows, row)
	}
}
