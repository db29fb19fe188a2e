package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pricofy/translation-router/internal/config"
	"github.com/pricofy/translation-router/internal/domain"
)

// defaultHopConfidence is assumed for a hop whose function reports none.
const defaultHopConfidence = 0.9

// romanceLanguages are served by the multi-target romance models.
var romanceLanguages = []string{
	// Spanish variants
	"es", "es_AR", "es_CL", "es_CO", "es_CR", "es_DO", "es_EC", "es_ES", "es_GT", "es_HN",
	"es_MX", "es_NI", "es_PA", "es_PE", "es_PR", "es_SV", "es_UY", "es_VE",
	// French variants
	"fr", "fr_BE", "fr_CA", "fr_FR",
	"wa",  // Walloon
	"frp", // Franco-Provençal
	"oc",  // Occitan
	// Italian variants
	"it",
	"co",  // Corsican
	"nap", // Neapolitan
	"scn", // Sicilian
	"vec", // Venetian
	// Portuguese variants
	"pt", "pt_BR", "pt_PT",
	"gl",  // Galician
	"mwl", // Mirandese
	// Catalan and related
	"ca",  // Catalan
	"an",  // Aragonese
	"lad", // Ladino
	// Romanian
	"ro",
	// Other Romance
	"la",  // Latin
	"rm",  // Romansh
	"lld", // Ladin
	"fur", // Friulian
	"lij", // Ligurian
	"lmo", // Lombard
	"sc",  // Sardinian
}

// Routes describes which translator functions exist. Every group has a
// function to and from the pivot language, named
// <prefix>-<group>-<pivot> and <prefix>-<pivot>-<group>. Pairs that don't
// involve the pivot chain two functions through it.
type Routes struct {
	Pivot  string              `yaml:"pivot"`
	Groups map[string][]string `yaml:"groups"`

	groupOf map[string]string
}

// DefaultRoutes returns the built-in route table: romance and German, pivoting through English.
func DefaultRoutes() *Routes {
	r := &Routes{
		Pivot: "en",
		Groups: map[string][]string{
			"romance": romanceLanguages,
			"de":      {"de"},
		},
	}
	r.index()
	return r
}

// LoadRoutes reads a route table from a YAML file.
func LoadRoutes(path string) (*Routes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes: %w", err)
	}
	var r Routes
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse routes %s: %w", path, err)
	}
	if strings.TrimSpace(r.Pivot) == "" {
		return nil, fmt.Errorf("routes %s: pivot is required", path)
	}
	if len(r.Groups) == 0 {
		return nil, fmt.Errorf("routes %s: at least one group is required", path)
	}
	r.index()
	return &r, nil
}

func (r *Routes) index() {
	r.groupOf = make(map[string]string)
	for group, langs := range r.Groups {
		for _, lang := range langs {
			r.groupOf[lang] = group
		}
	}
}

// Supported reports whether lang can be translated to or from.
func (r *Routes) Supported(lang string) bool {
	if lang == "" {
		return false
	}
	_, ok := r.groupOf[lang]
	return ok || lang == r.Pivot
}

// Languages returns every supported language code, sorted.
func (r *Routes) Languages() []string {
	langs := make([]string, 0, len(r.groupOf)+1)
	for lang := range r.groupOf {
		langs = append(langs, lang)
	}
	if _, ok := r.groupOf[r.Pivot]; !ok {
		langs = append(langs, r.Pivot)
	}
	sort.Strings(langs)
	return langs
}

// hop is one function invocation in a route. TargetLang is only set for
// functions serving a multi-language group.
type hop struct {
	Function   string
	TargetLang string
}

// route returns the functions to call in sequence, or nil for unsupported pairs.
func (r *Routes) route(prefix, source, target string) []hop {
	if source == target || !r.Supported(source) || !r.Supported(target) {
		return nil
	}
	toPivot := func(lang string) hop {
		return hop{Function: fmt.Sprintf("%s-%s-%s", prefix, r.groupOf[lang], r.Pivot)}
	}
	fromPivot := func(lang string) hop {
		h := hop{Function: fmt.Sprintf("%s-%s-%s", prefix, r.Pivot, r.groupOf[lang])}
		if len(r.Groups[r.groupOf[lang]]) > 1 {
			h.TargetLang = lang
		}
		return h
	}

	switch {
	case target == r.Pivot:
		return []hop{toPivot(source)}
	case source == r.Pivot:
		return []hop{fromPivot(target)}
	default:
		return []hop{toPivot(source), fromPivot(target)}
	}
}

// Invoker is the subset of the Lambda client used by the backend.
type Invoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// TranslatorRequest is the request format for translator functions (chunked mode).
type TranslatorRequest struct {
	Chunks     [][]string `json:"chunks"`
	TargetLang string     `json:"target_lang,omitempty"` // required for multi-language groups
	Tier       string     `json:"tier,omitempty"`
}

// TranslatorResponse is the response format from translator functions (chunked mode).
type TranslatorResponse struct {
	Translations [][]string `json:"translations"`
	Confidence   *float64   `json:"confidence,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Lambda translates by invoking translator functions, pivoting through the
// pivot language when no direct function exists.
type Lambda struct {
	client Invoker
	prefix string
	routes *Routes
	logger *zap.Logger
}

// NewLambda creates a Lambda backend over client.
func NewLambda(client Invoker, prefix string, routes *Routes, logger *zap.Logger) *Lambda {
	if routes == nil {
		routes = DefaultRoutes()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lambda{client: client, prefix: prefix, routes: routes, logger: logger.Named("lambda")}
}

// NewClient loads AWS credentials and returns a Lambda client. An empty
// region uses the SDK's default resolution.
func NewClient(ctx context.Context, region string) (*lambda.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return lambda.NewFromConfig(awsCfg), nil
}

// NewLambdaFromConfig loads AWS credentials and the route table and builds a Lambda backend.
func NewLambdaFromConfig(ctx context.Context, cfg config.LambdaConfig, logger *zap.Logger) (*Lambda, error) {
	client, err := NewClient(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}

	routes := DefaultRoutes()
	if cfg.RoutesFile != "" {
		if routes, err = LoadRoutes(cfg.RoutesFile); err != nil {
			return nil, err
		}
	}
	return NewLambda(client, cfg.FunctionPrefix, routes, logger), nil
}

// IsValidPair checks if a language pair can be translated.
func (l *Lambda) IsValidPair(source, target string) bool {
	return l.routes.route(l.prefix, source, target) != nil
}

// Translate translates a single text.
func (l *Lambda) Translate(ctx context.Context, text, source, target string, tier domain.Tier) (Translation, error) {
	out, err := l.TranslateBatch(ctx, []string{text}, source, target, tier)
	if err != nil {
		return Translation{}, err
	}
	return out[0], nil
}

// TranslateBatch translates all texts in one invocation per hop.
func (l *Lambda) TranslateBatch(ctx context.Context, texts []string, source, target string, tier domain.Tier) ([]Translation, error) {
	if len(texts) == 0 {
		return []Translation{}, nil
	}

	route := l.routes.route(l.prefix, source, target)
	if route == nil {
		return nil, fmt.Errorf("unsupported language pair: %s-%s", source, target)
	}

	current := texts
	confidence := 1.0
	models := make([]string, 0, len(route))
	for i, step := range route {
		result, conf, err := l.invoke(ctx, step, tier, current)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s) failed: %w", i+1, step.Function, err)
		}
		current = result
		confidence *= conf
		models = append(models, step.Function)
	}

	model := strings.Join(models, ">")
	out := make([]Translation, len(current))
	for i, text := range current {
		out[i] = Translation{Text: text, Confidence: confidence, Model: model}
	}
	return out, nil
}

// invoke calls a translator function with the texts as one chunk.
func (l *Lambda) invoke(ctx context.Context, step hop, tier domain.Tier, texts []string) ([]string, float64, error) {
	payload, err := json.Marshal(TranslatorRequest{
		Chunks:     [][]string{texts},
		TargetLang: step.TargetLang,
		Tier:       string(tier),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	function := step.Function
	result, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: &function,
		Payload:      payload,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to invoke %s: %w", function, err)
	}
	if result.FunctionError != nil {
		return nil, 0, fmt.Errorf("lambda error: %s", *result.FunctionError)
	}

	var resp TranslatorResponse
	if err := json.Unmarshal(result.Payload, &resp); err != nil {
		return nil, 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != "" {
		return nil, 0, fmt.Errorf("translator error: %s", resp.Error)
	}
	if len(resp.Translations) != 1 || len(resp.Translations[0]) != len(texts) {
		return nil, 0, fmt.Errorf("translator %s returned a response that does not match the %d texts sent", function, len(texts))
	}

	conf := defaultHopConfidence
	if resp.Confidence != nil {
		conf = *resp.Confidence
	}
	l.logger.Debug("translator invoked",
		zap.String("function", function),
		zap.Int("texts", len(texts)),
		zap.Float64("confidence", conf))
	return resp.Translations[0], conf, nil
}
