package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"patient-assistant/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestSystemPromptWithoutProfile(t *testing.T) {
	assert.Equal(t, assistantIdentity, SystemPrompt(nil))
	assert.Equal(t, assistantIdentity, SystemPrompt(&model.UserProfile{UserID: "u1"}))
}

func TestSystemPromptListsOnlyPresentFields(t *testing.T) {
	prompt := SystemPrompt(&model.UserProfile{
		UserID:     "u1",
		FirstName:  ptr("Ayse"),
		Age:        ptr(72),
		Gender:     ptr("female"),
		Conditions: []string{"hypertension", "diabetes"},
	})

	assert.Contains(t, prompt, "- Name: Ayse\n")
	assert.Contains(t, prompt, "- Age: 72\n")
	assert.Contains(t, prompt, "- Gender: Female\n")
	assert.Contains(t, prompt, "- Conditions: hypertension, diabetes\n")
	assert.NotContains(t, prompt, "Medications:")
	assert.NotContains(t, prompt, "BMI:")
}

func TestSystemPromptBMIRequiresHeightAndWeight(t *testing.T) {
	withBoth := SystemPrompt(&model.UserProfile{HeightCentimeters: ptr(170.0), WeightKilograms: ptr(72.25)})
	assert.Contains(t, withBoth, "- Height: 170 cm\n")
	assert.Contains(t, withBoth, "- BMI: 25.0\n")

	weightOnly := SystemPrompt(&model.UserProfile{WeightKilograms: ptr(80.0)})
	assert.Contains(t, weightOnly, "- Weight: 80 kg\n")
	assert.NotContains(t, weightOnly, "BMI:")
}

func TestEnhanceMessage(t *testing.T) {
	assert.Equal(t, "Is coffee bad?", EnhanceMessage("Is coffee bad?", "  ", nil))

	enhanced := EnhanceMessage("Is coffee bad?", "=== Medical Knowledge Base ===\n\nQ: x\nA: y", &model.UserProfile{Age: ptr(70)})
	assert.Contains(t, enhanced, "User question: Is coffee bad?")
	assert.Contains(t, enhanced, "Q: x\nA: y")
	assert.Contains(t, enhanced, "User profile: Age: 70")

	noProfile := EnhanceMessage("q", "ctx", nil)
	assert.Contains(t, noProfile, "User profile: none")
}
