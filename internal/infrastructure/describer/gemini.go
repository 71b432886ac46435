package describer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

const DefaultModel = "gemini-1.5-flash"

const systemPrompt = `너는 반려동물 피부 질환 안내 도우미다. 수의사를 대신하지 않는다.
주어진 자동 진단 결과를 바탕으로 보호자에게 2~3문장의 짧은 안내를 한국어로 작성한다.
진단명을 반복하고, 집에서 관찰할 점과 동물병원 방문이 필요한 경우를 알려준다.
마크다운, 목록, 인사말은 쓰지 않는다.`

// GeminiDescriber пишет короткую памятку владельцу по диагнозу через Gemini
type GeminiDescriber struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiDescriber создаёт клиента Gemini. Пустой model заменяется на DefaultModel.
func NewGeminiDescriber(ctx context.Context, apiKey, model string) (*GeminiDescriber, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	m := cl.GenerativeModel(model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0.2),
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}

	return &GeminiDescriber{client: cl, model: m}, nil
}

func (d *GeminiDescriber) Describe(ctx context.Context, diagnosis entity.Diagnosis) (string, error) {
	resp, err := d.model.GenerateContent(ctx, genai.Text(Prompt(diagnosis)))
	if err != nil {
		return "", fmt.Errorf("gemini describe: %w", err)
	}

	txt := strings.TrimSpace(firstText(resp))
	if txt == "" {
		return "", errors.New("gemini describe: empty response")
	}
	return txt, nil
}

func (d *GeminiDescriber) Close() error {
	return d.client.Close()
}

// Prompt пользовательский запрос для диагноза
func Prompt(diagnosis entity.Diagnosis) string {
	if diagnosis.Stage == entity.StageBinary || diagnosis.Label == entity.NoSymptomLabel {
		return fmt.Sprintf("자동 진단 결과: 피부 이상 소견 없음(%s), 신뢰도 %.1f%%.",
			diagnosis.Label, diagnosis.Confidence*100)
	}
	return fmt.Sprintf("자동 진단 결과: 피부 병변 유형 '%s', 신뢰도 %.1f%%.",
		diagnosis.Label, diagnosis.Confidence*100)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }

var _ port.DiagnosisDescriber = (*GeminiDescriber)(nil)
