package extract

import (
	"strings"

	"convoforge/internal/models"
)

// MainPrompt is the system prompt for conversation turns.
const MainPrompt = `You are an AI assistant specialized in helping users create apps through conversation. Your goal is to guide the user through the app creation process, asking relevant questions to understand their requirements, and providing helpful suggestions.

Focus on understanding the following aspects of the app:
1. Purpose - What problem is the app solving?
2. Users - Who will use the app?
3. Features - What key features should the app have?
4. Technical requirements - Any specific platforms, integrations, or technical constraints?

Be conversational but focused. Ask one question at a time. Listen carefully to user responses and adapt your follow-up questions accordingly.

For each response, identify any decisions or requirements mentioned by the user. A decision is any clear choice about the app's purpose, features, users, or technical requirements.

Each of your responses should include:
1. Acknowledgment of what you've understood so far
2. A follow-up question to gather more information
3. Occasionally, a summary of the decisions and requirements identified so far

Avoid being too technical unless the user seems technically knowledgeable. Focus on understanding their needs rather than implementation details initially.`

// DecisionExtractionPrompt asks for the decisions made so far as a JSON array.
const DecisionExtractionPrompt = `Extract key decisions and requirements from the following conversation about app creation. 

For each decision or requirement, provide:
1. A short title (10 words or less)
2. A detailed description of the decision/requirement
3. The category (purpose, users, features, technology)
4. The status (confirmed, pending, conflicting)

A good decision should be specific, actionable, and relevant to the app being created.

VERY IMPORTANT: Format your response EXACTLY as a JSON array of decisions, with no additional text before or after the array, like this:
[
  {
    "title": "Social Media Integration",
    "details": "App should allow users to share content directly to Instagram and Twitter",
    "category": "features",
    "status": "confirmed"
  },
  {
    "title": "Target Audience",
    "details": "Primary users will be young adults aged 18-34 with interest in fitness",
    "category": "users",
    "status": "pending"
  }
]

If you need to provide explanation or commentary, include it as a comment inside a decision object with a title like "Note" or "Analysis".

Only include decisions that have been explicitly mentioned or can be directly inferred from the conversation.`

// SuggestionsPrompt asks for follow-up suggestions as a JSON array of strings.
const SuggestionsPrompt = `Based on the conversation so far about app creation, generate 3-5 relevant follow-up questions or suggestions that would help move the conversation forward.

Focus on questions or suggestions that would:
1. Clarify ambiguous requirements
2. Explore important aspects not yet discussed
3. Deepen understanding of already mentioned features
4. Address potential gaps in the requirements

Make these suggestions short (15 words or less), natural, and conversational - as if a user might type them.

VERY IMPORTANT: Format your response EXACTLY as a JSON array of strings, with no additional text before or after the array, like this:
["What features are most important?", "Who are your target users?", "Should it work offline?"]

Do not include any explanation or additional text outside the JSON array.`

// FormatTranscript renders messages as "User: ..." and "Assistant: ..."
// paragraphs, oldest first. Every non-user role is labelled Assistant.
func FormatTranscript(messages []models.Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		label := "Assistant"
		if msg.Role == models.RoleUser {
			label = "User"
		}
		parts = append(parts, label+": "+msg.Content)
	}
	return strings.Join(parts, "\n\n")
}

// BuildPrompt embeds the transcript of messages under instructions.
func BuildPrompt(instructions string, messages []models.Message) string {
	return instructions + "\n\nConversation:\n" + FormatTranscript(messages)
}
