package llm

// hostedService is an OpenAI-compatible service reachable by name.
type hostedService struct {
	baseURL string
	// prefix is the API path prefix; Gemini's compat endpoint has none.
	prefix string
	model  string
}

// hosted lists the services NewProvider knows by name. API keys come from
// config, PAPERGRAPH_LLM_API_KEY, or the OS keyring (see
// "papergraph auth set-key").
var hosted = map[string]hostedService{
	"openai":     {baseURL: "https://api.openai.com", prefix: "/v1", model: "gpt-4o-mini"},
	"groq":       {baseURL: "https://api.groq.com/openai", prefix: "/v1", model: "llama-3.3-70b-versatile"},
	"openrouter": {baseURL: "https://openrouter.ai/api", prefix: "/v1"},
	"xai":        {baseURL: "https://api.x.ai", prefix: "/v1"},
	"lmstudio":   {baseURL: "http://localhost:1234", prefix: "/v1"},
	"gemini":     {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai"},
}

// provider fills the service defaults into cfg where it leaves them empty.
func (s hostedService) provider(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = s.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = s.model
	}
	return &compatProvider{ep: newEndpoint(cfg, s.prefix)}
}
