package metadata

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	textEncoders = map[string]bool{
		"CLIPTextEncode":            true,
		"CLIPTextEncodeSDXL":        true,
		"CLIPTextEncodeSDXLRefiner": true,
	}
	schedulers = map[string]bool{
		"BasicScheduler":  true,
		"KarrasScheduler": true,
	}
	samplers = map[string]bool{
		"KSamplerSelect":   true,
		"KSampler":         true,
		"KSamplerAdvanced": true,
	}
	modelLoaders = map[string]bool{
		"CheckpointLoaderSimple": true,
		"UNETLoader":             true,
		"DiffusersLoader":        true,
	}
)

// minPromptLen filters out stub text encoders (empty strings, "none")
// when looking for the positive prompt.
const minPromptLen = 5

// walkPrompt derives generation parameters from a ComfyUI API-format
// prompt graph: {node_id: {class_type, inputs, _meta: {title}}}. Nodes
// are visited in document order. The first positive and first negative
// prompt win; for every other field the last node that sets it wins.
func walkPrompt(prompt string, md map[string]any) {
	root := gjson.Parse(prompt)
	if !root.IsObject() {
		return
	}

	root.ForEach(func(_, node gjson.Result) bool {
		class := node.Get("class_type").String()
		title := node.Get("_meta.title").String()
		inputs := node.Get("inputs")
		negative := strings.Contains(strings.ToLower(title), "negative")

		if textEncoders[class] {
			text := inputs.Get("text")
			if text.Type == gjson.String {
				switch {
				case negative:
					if _, ok := md["negative_prompt"]; !ok && text.String() != "" {
						md["negative_prompt"] = text.String()
					}
				case len(text.String()) > minPromptLen:
					if _, ok := md["positive_prompt"]; !ok {
						md["positive_prompt"] = text.String()
					}
				}
			}
		}

		if schedulers[class] {
			setScalar(md, "steps", inputs.Get("steps"))
		}

		if samplers[class] {
			setScalar(md, "sampler", inputs.Get("sampler_name"))
		}

		setScalar(md, "cfg_scale", inputs.Get("cfg"))
		setScalar(md, "seed", inputs.Get("seed"))

		if modelLoaders[class] {
			for _, key := range []string{"ckpt_name", "unet_name", "model_name"} {
				if v := inputs.Get(key); v.Type == gjson.String && v.String() != "" {
					md["model"] = v.String()
					break
				}
			}
		}

		if strings.Contains(strings.ToLower(class), "lora") || strings.Contains(strings.ToLower(title), "lora") {
			walkLora(inputs, md)
		}

		return true
	})
}

func walkLora(inputs gjson.Result, md map[string]any) {
	for _, key := range []string{"lora_name", "lora"} {
		if v := inputs.Get(key); v.Type == gjson.String && v.String() != "" {
			md["lora"] = v.String()
			break
		}
	}

	// Power Lora Loader: {"lora_1": {"on": true, "lora": "x.safetensors"}}
	inputs.ForEach(func(key, value gjson.Result) bool {
		if !strings.HasPrefix(key.String(), "lora_") || !value.IsObject() {
			return true
		}

		if !value.Get("on").Bool() {
			return true
		}

		if v := value.Get("lora"); v.Type == gjson.String && v.String() != "" {
			md["lora"] = v.String()
			return false
		}

		return true
	})
}

// setScalar stores a scalar input as text, using the JSON source form
// for numbers so 7.0 stays "7.0". Zero, false and empty values are
// skipped.
func setScalar(md map[string]any, key string, v gjson.Result) {
	switch v.Type {
	case gjson.String:
		if v.String() != "" {
			md[key] = v.String()
		}
	case gjson.Number:
		if v.Float() != 0 {
			md[key] = v.Raw
		}
	case gjson.True:
		md[key] = "True"
	}
}

var (
	reModel    = regexp.MustCompile(`Model: ([^,\n]+)`)
	rePositive = regexp.MustCompile(`(?s)^(.*?)(?:Negative prompt:|Steps:|Model:|Sampler:|Seed:|Scheduler:|CFG)`)
	reNegative = regexp.MustCompile(`(?s)Negative prompt:(.*?)(?:Steps:|Model:|Sampler:|Seed:|Scheduler:|CFG|$)`)
	reSampler  = regexp.MustCompile(`Sampler: ([^,\n]+)`)
	reSchedule = regexp.MustCompile(`Scheduler: ([^,\n]+)`)
	reSteps    = regexp.MustCompile(`Steps: (\d+)`)
	reCFG      = regexp.MustCompile(`(?i)CFG[ scale]*: ([\d.]+)`)
	reSeed     = regexp.MustCompile(`Seed: (\d+)`)
	reLora     = regexp.MustCompile(`<lora:([^>]+)>`)
)

// parseParameters reads the A1111-style "parameters" text chunk:
//
//	a castle at dusk
//	Negative prompt: blurry
//	Steps: 20, Sampler: Euler a, CFG scale: 7, Seed: 42, Model: sdxl
func parseParameters(text string, md map[string]any) {
	md["parameters"] = text

	if m := reModel.FindStringSubmatch(text); m != nil {
		md["model"] = strings.TrimSpace(m[1])
	}

	if m := rePositive.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
		md["positive_prompt"] = strings.TrimSpace(m[1])
	}

	if m := reNegative.FindStringSubmatch(text); m != nil {
		md["negative_prompt"] = strings.TrimSpace(m[1])
	}

	fields := []struct {
		key string
		re  *regexp.Regexp
	}{
		{"sampler", reSampler},
		{"scheduler", reSchedule},
		{"steps", reSteps},
		{"cfg_scale", reCFG},
		{"seed", reSeed},
		{"lora", reLora},
	}

	for _, f := range fields {
		if m := f.re.FindStringSubmatch(text); m != nil {
			md[f.key] = strings.TrimSpace(m[1])
		}
	}
}
