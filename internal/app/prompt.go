package app

import (
	"fmt"
	"strconv"
	"strings"

	"patient-assistant/internal/model"
)

const assistantIdentity = `You are Patient Assistant, an AI health assistant. You help older adults reach accurate health information and correct common misconceptions.

Behaviour rules
- Give a detailed explanation only when the user asks a health question.
- Answer greetings such as "hello" or "how are you" briefly and without health advice.
- Do not volunteer advice when the user has not asked a question.
- Stay on the topic that was asked about.
- Use the user's health details for health questions. For other questions consider only name, age, height and weight.

Your tasks
- Correct widespread health misinformation.
- Give older users clear and reliable health information.
- Explain complex medical information in simple, accessible language.

Tone
- Be respectful and kind.
- Use plain, everyday words and a calm pace.
- Show empathy.

Hard rules
- Never diagnose. Share general health information only.
- Always direct emergencies to a doctor.
- Do not recommend medicines. Give general information only.
- When in doubt, say "I recommend you consult your doctor."
- Say that your information is based on reliable sources.

Answer format
- A short introduction.
- The main information stated clearly.
- An example if it helps.
- A suggestion to see a doctor where appropriate.
- Supporting advice.`

// SystemPrompt returns the assistant instruction, followed by the user's
// profile when one is known.
func SystemPrompt(profile *model.UserProfile) string {
	if profile.IsEmpty() {
		return assistantIdentity
	}

	var b strings.Builder
	b.WriteString(assistantIdentity)
	b.WriteString("\n\n--- USER INFORMATION ---\n")
	b.WriteString("Known facts about this user:\n")
	for _, line := range profileLines(profile) {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\nTake these facts into account to personalise your health guidance. ")
	b.WriteString("Always stress the need for a doctor's check and never diagnose.")
	return b.String()
}

// EnhanceMessage wraps the user's question with retrieved context. Without
// context the question is returned unchanged.
func EnhanceMessage(message, retrieved string, profile *model.UserProfile) string {
	if strings.TrimSpace(retrieved) == "" {
		return message
	}
	profileText := "none"
	if !profile.IsEmpty() {
		profileText = strings.Join(profileLines(profile), "; ")
	}
	return fmt.Sprintf(`User question: %s

From the relevant knowledge sources:
%s

User profile: %s

Answer the question using the trusted sources above and list the sources you used at the end.
If the situation needs a definite medical diagnosis, recommend consulting a health professional.
Keep the answer educational and say that it does not replace medical advice.`, message, retrieved, profileText)
}

func profileLines(p *model.UserProfile) []string {
	var lines []string
	if name := fullName(p); name != "" {
		lines = append(lines, "Name: "+name)
	}
	if p.Age != nil {
		lines = append(lines, "Age: "+strconv.Itoa(*p.Age))
	}
	if p.Gender != nil {
		lines = append(lines, "Gender: "+genderLabel(*p.Gender))
	}
	if len(p.Conditions) > 0 {
		lines = append(lines, "Conditions: "+strings.Join(p.Conditions, ", "))
	}
	if len(p.Medications) > 0 {
		lines = append(lines, "Medications: "+strings.Join(p.Medications, ", "))
	}
	if len(p.Allergies) > 0 {
		lines = append(lines, "Allergies: "+strings.Join(p.Allergies, ", "))
	}
	if len(p.PriorProcedures) > 0 {
		lines = append(lines, "Past surgeries: "+strings.Join(p.PriorProcedures, ", "))
	}
	if p.HeightCentimeters != nil {
		lines = append(lines, "Height: "+formatNumber(*p.HeightCentimeters)+" cm")
	}
	if p.WeightKilograms != nil {
		lines = append(lines, "Weight: "+formatNumber(*p.WeightKilograms)+" kg")
	}
	if bmi, ok := BMI(p); ok {
		lines = append(lines, fmt.Sprintf("BMI: %.1f", bmi))
	}
	return lines
}

// BMI is reported only when both height and weight are present.
func BMI(p *model.UserProfile) (float64, bool) {
	if p == nil || p.HeightCentimeters == nil || p.WeightKilograms == nil || *p.HeightCentimeters <= 0 {
		return 0, false
	}
	m := *p.HeightCentimeters / 100
	return *p.WeightKilograms / (m * m), true
}

func fullName(p *model.UserProfile) string {
	var parts []string
	if p.FirstName != nil {
		parts = append(parts, *p.FirstName)
	}
	if p.LastName != nil {
		parts = append(parts, *p.LastName)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func genderLabel(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "female", "f", "woman":
		return "Female"
	case "male", "m", "man":
		return "Male"
	default:
		return raw
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
