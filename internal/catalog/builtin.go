// ABOUTME: Built-in OpenRouter model list used when no catalog file is configured
// ABOUTME: Ids follow the provider/model[:variant] form OpenRouter expects

package catalog

// builtinModels is used when no catalog file is configured.
var builtinModels = []string{
	"meta-llama/llama-3.1-8b-instruct:free",
	"mistralai/mistral-7b-instruct:free",
	"google/gemma-2-9b-it:free",
	"qwen/qwen-2.5-7b-instruct:free",
	"openai/gpt-4o",
	"openai/gpt-4o-mini",
	"anthropic/claude-3.5-sonnet",
	"anthropic/claude-3-haiku",
	"google/gemini-pro-1.5",
	"meta-llama/llama-3.1-70b-instruct",
	"mistralai/mistral-large",
	"deepseek/deepseek-chat",
}

// BuiltinModels returns a copy of the built-in model list.
func BuiltinModels() []string {
	out := make([]string, len(builtinModels))
	copy(out, builtinModels)
	return out
}
