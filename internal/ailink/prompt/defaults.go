package prompt

// DefaultSlug names the built-in roast prompt.
const DefaultSlug = "pc-roast"

// DefaultUserTemplate asks for a one paragraph roast in Indonesian.
const DefaultUserTemplate = `roastingkan spek pc dengan komponen nya dibawah ini, kalu bisa buatkan dengan 1 paragraf saja dengan bahasa indonesia:
Prosesor: {{.Processor}}
GPU: {{.GPU}}
Motherboard: {{.Motherboard}}
PSU: {{.PSU}}
RAM: {{.RAM}}
Storage: {{.Storage}}
Kegunaan: {{.UseCase}}`

// Default returns the built-in prompt.
func Default() *Prompt {
	p, err := compile(Config{
		Slug:         DefaultSlug,
		Name:         "PC roast",
		UserTemplate: DefaultUserTemplate,
	}, "builtin")
	if err != nil {
		panic(err)
	}
	return p
}
