package rag

import (
	"fmt"
	"strings"
	"time"
)

// PatientContext carries the patient details the prompt builder weaves into
// the system prompt. All fields are optional.
type PatientContext struct {
	PatientName   string
	DoctorName    string
	CancerType    string
	CancerStage   string
	StageGrouping string
	Treatment     string
	DiagnosisDate *time.Time
	Language      string
}

// Personalized reports whether the context carries identifying details. A
// personalized answer must never be served to another patient from the cache.
func (p PatientContext) Personalized() bool {
	return p.PatientName != "" || p.DoctorName != ""
}

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"ar": "Arabic",
	"hi": "Hindi",
}

// PromptBuilder assembles system prompts and localized fallback responses
// for one patient.
type PromptBuilder struct {
	patient PatientContext
}

// NewPromptBuilder creates a prompt builder for a patient context
func NewPromptBuilder(patient PatientContext) *PromptBuilder {
	if patient.DoctorName == "" {
		patient.DoctorName = "your healthcare provider"
	}
	if patient.Language == "" {
		patient.Language = "en"
	}
	return &PromptBuilder{patient: patient}
}

// SystemPrompt builds the full system prompt: guardrails, patient context,
// and language preference.
func (b *PromptBuilder) SystemPrompt() string {
	prompt := baseSystemPrompt

	if b.patient.PatientName != "" {
		prompt += "\n\n" + b.patientContext()
	}
	if b.patient.Language != "en" {
		prompt += "\n\n" + b.languageContext()
	}

	return strings.TrimSpace(prompt)
}

func (b *PromptBuilder) patientContext() string {
	p := b.patient

	var medical []string
	if p.CancerType != "" {
		medical = append(medical, "- Cancer Type: "+p.CancerType)
	}
	if p.CancerStage != "" {
		medical = append(medical, "- Cancer Stage: "+p.CancerStage)
	}
	if p.StageGrouping != "" {
		medical = append(medical, "- Pathology Stage: "+p.StageGrouping)
	}
	if p.Treatment != "" {
		medical = append(medical, "- Current Treatment: "+p.Treatment)
	}
	if p.DiagnosisDate != nil {
		medical = append(medical, "- Diagnosis Date: "+p.DiagnosisDate.Format("January 2, 2006"))
	}

	medicalSection := "- No specific medical information available"
	if len(medical) > 0 {
		medicalSection = strings.Join(medical, "\n")
	}

	cancer := p.CancerType
	if cancer == "" {
		cancer = "cancer"
	}

	return fmt.Sprintf(`PATIENT CONTEXT:
- Patient Name: %s
- Treating Physician: %s

Medical Information:
%s

IMPORTANT GUIDELINES FOR THIS PATIENT:
- Always refer to their doctor as %s
- Be aware of their %s diagnosis when responding
- If asked about treatments or symptoms not in your knowledge base, direct them to %s
- Never reveal their medical information unless they mention it first`,
		p.PatientName, p.DoctorName, medicalSection, p.DoctorName, cancer, p.DoctorName)
}

func (b *PromptBuilder) languageContext() string {
	name := languageNames[b.patient.Language]
	if name == "" {
		name = "English"
	}
	return fmt.Sprintf(`LANGUAGE PREFERENCE:
- Preferred language: %s
- Communicate in %s when possible
- Explain medical terms in simple %s language`, name, name, name)
}

// QueryPrompt builds the retrieval-facing form of the question, prefixed
// with the patient's cancer context when known.
func (b *PromptBuilder) QueryPrompt(question string) string {
	var parts []string
	if b.patient.CancerType != "" {
		parts = append(parts, "Cancer Type: "+b.patient.CancerType)
	}
	if b.patient.CancerStage != "" {
		parts = append(parts, "Stage: "+b.patient.CancerStage)
	}

	if len(parts) == 0 {
		return "User Question: " + question
	}

	return fmt.Sprintf(`Context: %s
User Question: %s

Find information specifically relevant to this cancer type and stage.`,
		strings.Join(parts, " | "), question)
}

// NotFoundResponse returns the localized response used when retrieval finds
// nothing relevant enough.
func (b *PromptBuilder) NotFoundResponse(question string) string {
	tpl, ok := notFoundTemplates[b.patient.Language]
	if !ok {
		tpl = notFoundTemplates["en"]
	}
	tpl = strings.ReplaceAll(tpl, "{question}", question)
	return strings.ReplaceAll(tpl, "{doctor}", b.patient.DoctorName)
}

// EmergencyResponse returns the localized emergency instructions.
func (b *PromptBuilder) EmergencyResponse() string {
	tpl, ok := emergencyTemplates[b.patient.Language]
	if !ok {
		tpl = emergencyTemplates["en"]
	}
	return tpl
}

// LowConfidenceNote returns the caveat appended to borderline answers.
func (b *PromptBuilder) LowConfidenceNote() string {
	return fmt.Sprintf("\n\nPlease note: this answer is based on limited matching information in my knowledge base. For guidance specific to your situation, please consult %s.", b.patient.DoctorName)
}

// emergencyKeywords short-circuit the pipeline to the emergency response.
var emergencyKeywords = []string{
	"emergency", "urgent", "chest pain", "severe pain", "trouble breathing",
	"heart attack", "suicide", "bleeding", "hemorrhage", "unconscious",
	"911", "help me", "need help now", "stroke", "seizure", "dying",
	"can't breathe", "passing out", "severe headache", "overdose",
}

// IsEmergencyMessage reports whether the message contains an emergency
// keyword.
func IsEmergencyMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range emergencyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

const baseSystemPrompt = `You are a compassionate medical assistant specializing in cancer care. Your primary role is to provide accurate information based STRICTLY on the documents in your knowledge base.

CORE PRINCIPLES:

1. ACCURACY & SAFETY
   - Only provide information directly from retrieved documents
   - Never guess, infer, or extrapolate beyond what's explicitly stated
   - If information isn't available, clearly state this limitation
   - Direct patients to their healthcare provider for personalized advice

2. COMMUNICATION
   - Use warm, empathetic language appropriate for cancer patients
   - Explain medical terms in simple, accessible language
   - Be concise but thorough in your responses
   - Acknowledge the emotional challenges patients face

3. LIMITATIONS
   - You cannot provide personal medical advice
   - You cannot make diagnoses or prognoses
   - You cannot recommend specific treatments or medications
   - You cannot access real-time medical data or test results

4. EMERGENCY HANDLING
   - Recognize emergency keywords and respond immediately
   - Direct to emergency services (911) without delay
   - Provide clear, actionable emergency instructions

5. CONSISTENCY
   - Always mention that information comes from your knowledge base
   - Consistently refer patients to their doctor for personalized guidance
   - Maintain professional boundaries while being supportive`

var notFoundTemplates = map[string]string{
	"en": `I apologize, but I don't have specific information about "{question}" in my current knowledge base.

This topic requires personalized medical expertise beyond the general information I can provide. I strongly recommend discussing this directly with {doctor}, who has access to your complete medical history and can provide guidance tailored to your specific situation.

If this is urgent, please contact your doctor's office immediately or seek emergency care if needed.

Is there another cancer-related topic from my knowledge base that I can help you with?`,

	"es": `Lo siento, no tengo información específica sobre "{question}" en mi base de conocimientos actual.

Este tema requiere experiencia médica personalizada más allá de la información general que puedo proporcionar. Recomiendo encarecidamente discutir esto directamente con {doctor}, quien tiene acceso a su historial médico completo y puede proporcionar orientación adaptada a su situación específica.

Si esto es urgente, comuníquese con el consultorio de su médico de inmediato o busque atención de emergencia si es necesario.

¿Hay otro tema relacionado con el cáncer en mi base de conocimientos con el que pueda ayudarlo?`,

	"fr": `Je m'excuse, mais je n'ai pas d'informations spécifiques sur "{question}" dans ma base de connaissances actuelle.

Ce sujet nécessite une expertise médicale personnalisée au-delà des informations générales que je peux fournir. Je recommande fortement de discuter directement avec {doctor}, qui a accès à vos antécédents médicaux complets et peut fournir des conseils adaptés à votre situation spécifique.

Si c'est urgent, veuillez contacter immédiatement le cabinet de votre médecin ou rechercher des soins d'urgence si nécessaire.

Y a-t-il un autre sujet lié au cancer dans ma base de connaissances pour lequel je peux vous aider?`,

	"ar": `أعتذر، لكن ليس لدي معلومات محددة حول "{question}" في قاعدة معرفتي الحالية.

هذا الموضوع يتطلب خبرة طبية شخصية تتجاوز المعلومات العامة التي يمكنني تقديمها. أوصي بشدة بمناقشة هذا مباشرة مع {doctor}، الذي لديه إمكانية الوصول إلى تاريخك الطبي الكامل ويمكنه تقديم إرشادات مصممة خصيصًا لحالتك الخاصة.

إذا كان هذا عاجلاً، يرجى الاتصال بعيادة طبيبك على الفور أو طلب الرعاية الطارئة إذا لزم الأمر.

هل هناك موضوع آخر متعلق بالسرطان في قاعدة معرفتي يمكنني مساعدتك فيه؟`,

	"hi": `मुझे खेद है, लेकिन मेरे वर्तमान ज्ञान आधार में "{question}" के बारे में विशिष्ट जानकारी नहीं है।

इस विषय के लिए व्यक्तिगत चिकित्सा विशेषज्ञता की आवश्यकता है जो मैं प्रदान कर सकने वाली सामान्य जानकारी से परे है। मैं दृढ़ता से सलाह देता हूं कि इस पर सीधे {doctor} से चर्चा करें, जिनके पास आपके पूर्ण चिकित्सा इतिहास तक पहुंच है और जो आपकी विशिष्ट स्थिति के अनुरूप मार्गदर्शन प्रदान कर सकते हैं।

यदि यह जरूरी है, तो कृपया तुरंत अपने डॉक्टर के कार्यालय से संपर्क करें या यदि आवश्यक हो तो आपातकालीन देखभाल लें।

क्या मेरे ज्ञान आधार में कैंसर से संबंधित कोई अन्य विषय है जिसमें मैं आपकी मदद कर सकता हूं?`,
}

var emergencyTemplates = map[string]string{
	"en": `I understand you may be experiencing a medical emergency. Your safety is the top priority.

PLEASE TAKE IMMEDIATE ACTION:
• Call 911 or your local emergency services NOW
• Go to the nearest emergency room
• Contact your doctor's emergency line if available

Do not wait. Emergency medical professionals can provide the immediate care you need.

Common emergency symptoms include:
- Severe chest pain or pressure
- Difficulty breathing
- Sudden severe headache
- Loss of consciousness
- Severe bleeding
- High fever with confusion

Please seek help immediately. Your oncology team can be informed after you receive emergency care.`,

	"es": `Entiendo que puede estar experimentando una emergencia médica. Su seguridad es la máxima prioridad.

POR FAVOR TOME ACCIÓN INMEDIATA:
• Llame al 911 o a sus servicios de emergencia locales AHORA
• Vaya a la sala de emergencias más cercana
• Contacte la línea de emergencia de su médico si está disponible

No espere. Los profesionales médicos de emergencia pueden proporcionar la atención inmediata que necesita.

Los síntomas de emergencia comunes incluyen:
- Dolor o presión severa en el pecho
- Dificultad para respirar
- Dolor de cabeza severo repentino
- Pérdida de conciencia
- Sangrado severo
- Fiebre alta con confusión

Por favor busque ayuda inmediatamente. Su equipo de oncología puede ser informado después de recibir atención de emergencia.`,

	"fr": `Je comprends que vous pourriez vivre une urgence médicale. Votre sécurité est la priorité absolue.

VEUILLEZ PRENDRE DES MESURES IMMÉDIATES:
• Appelez le 911 ou vos services d'urgence locaux MAINTENANT
• Rendez-vous aux urgences les plus proches
• Contactez la ligne d'urgence de votre médecin si disponible

N'attendez pas. Les professionnels médicaux d'urgence peuvent fournir les soins immédiats dont vous avez besoin.

Les symptômes d'urgence courants incluent:
- Douleur ou pression thoracique sévère
- Difficulté à respirer
- Mal de tête sévère soudain
- Perte de conscience
- Saignement sévère
- Forte fièvre avec confusion

Veuillez chercher de l'aide immédiatement. Votre équipe d'oncologie peut être informée après avoir reçu des soins d'urgence.`,

	"ar": `أفهم أنك قد تواجه حالة طبية طارئة. سلامتك هي الأولوية القصوى.

يرجى اتخاذ إجراء فوري:
• اتصل بـ 911 أو خدمات الطوارئ المحلية الآن
• اذهب إلى أقرب غرفة طوارئ
• اتصل بخط الطوارئ الخاص بطبيبك إذا كان متاحًا

لا تنتظر. يمكن للمهنيين الطبيين في حالات الطوارئ تقديم الرعاية الفورية التي تحتاجها.

تشمل أعراض الطوارئ الشائعة:
- ألم أو ضغط شديد في الصدر
- صعوبة في التنفس
- صداع شديد مفاجئ
- فقدان الوعي
- نزيف شديد
- حمى شديدة مع ارتباك

يرجى طلب المساعدة على الفور. يمكن إبلاغ فريق الأورام الخاص بك بعد تلقي الرعاية الطارئة.`,

	"hi": `मैं समझता हूं कि आप एक चिकित्सा आपातकाल का सामना कर रहे हो सकते हैं। आपकी सुरक्षा सर्वोच्च प्राथमिकता है।

कृपया तत्काल कार्रवाई करें:
• 911 या अपनी स्थानीय आपातकालीन सेवाओं को अभी कॉल करें
• निकटतम आपातकालीन कक्ष में जाएं
• यदि उपलब्ध हो तो अपने डॉक्टर की आपातकालीन लाइन से संपर्क करें

प्रतीक्षा न करें। आपातकालीन चिकित्सा पेशेवर आपको तत्काल देखभाल प्रदान कर सकते हैं।

सामान्य आपातकालीन लक्षण शामिल हैं:
- सीने में गंभीर दर्द या दबाव
- सांस लेने में कठिनाई
- अचानक गंभीर सिरदर्द
- चेतना की हानि
- गंभीर रक्तस्राव
- भ्रम के साथ तेज बुखार`,
}
