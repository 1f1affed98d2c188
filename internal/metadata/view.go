package metadata

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/yaml.v3"
)

// RenderYAML renders metadata as YAML for the raw metadata view. Keys are
// sorted by the encoder.
func RenderYAML(md map[string]any) (string, error) {
	if len(md) == 0 {
		return "", nil
	}

	out, err := yaml.Marshal(Sanitize(md))
	if err != nil {
		return "", fmt.Errorf("rendering metadata: %w", err)
	}

	return string(out), nil
}

// previewFields are the derived fields shown by Preview, in order.
var previewFields = []struct {
	key   string
	label string
}{
	{"model", "Model"},
	{"positive_prompt", "Positive Prompt"},
	{"negative_prompt", "Negative Prompt"},
	{"sampler", "Sampler"},
	{"scheduler", "Scheduler"},
	{"steps", "Steps"},
	{"cfg_scale", "CFG Scale"},
	{"seed", "Seed"},
	{"lora", "LoRA"},
}

// Preview renders the human-readable summary shown next to an image:
// file info followed by whichever generation parameters are present.
func Preview(md map[string]any) string {
	var sb strings.Builder

	if fi, ok := md["fileinfo"].(map[string]any); ok {
		fmt.Fprintf(&sb, "File: %v\n", fi["filename"])
		fmt.Fprintf(&sb, "Resolution: %v\n", fi["resolution"])
		fmt.Fprintf(&sb, "Date: %v\n", fi["date"])
		fmt.Fprintf(&sb, "Size: %v\n", fi["size"])
	}

	for _, f := range previewFields {
		if v, ok := md[f.key]; ok && v != nil {
			fmt.Fprintf(&sb, "%s: %v\n", f.label, v)
		}
	}

	return sb.String()
}

// DiffOp is the kind of a prompt diff segment.
type DiffOp int

const (
	DiffEqual DiffOp = iota
	DiffDelete
	DiffInsert
)

// DiffSegment is one run of a prompt comparison.
type DiffSegment struct {
	Op   DiffOp
	Text string
}

// DiffPrompts compares two prompts and returns the edit as segments,
// cleaned up to word-ish boundaries.
func DiffPrompts(a, b string) []DiffSegment {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	out := make([]DiffSegment, 0, len(diffs))

	for _, d := range diffs {
		var op DiffOp

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			op = DiffDelete
		case diffmatchpatch.DiffInsert:
			op = DiffInsert
		default:
			op = DiffEqual
		}

		out = append(out, DiffSegment{Op: op, Text: d.Text})
	}

	return out
}

// FormatDiff renders segments as plain text with [-removed-] and
// {+added+} markers.
func FormatDiff(segments []DiffSegment) string {
	var sb strings.Builder

	for _, s := range segments {
		switch s.Op {
		case DiffDelete:
			sb.WriteString("[-" + s.Text + "-]")
		case DiffInsert:
			sb.WriteString("{+" + s.Text + "+}")
		default:
			sb.WriteString(s.Text)
		}
	}

	return sb.String()
}

// PositivePrompt returns the positive prompt recorded in md, if any.
func PositivePrompt(md map[string]any) string {
	s, _ := md["positive_prompt"].(string)
	return s
}
