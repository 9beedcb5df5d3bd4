package rag

import (
	"fmt"
	"strings"

	"github.com/nikhilbhutani/docrag/internal/llm"
	"github.com/nikhilbhutani/docrag/internal/models"
	"github.com/nikhilbhutani/docrag/internal/vectorstore"
)

// NoContextAnswer is stored instead of calling the model when retrieval
// finds nothing.
const NoContextAnswer = "I couldn't find relevant information in the documents to answer your question."

const systemPrompt = `You are a helpful assistant that answers questions using the organization's documents.
Answer only from the provided context. If the context doesn't contain the answer, say so plainly.
When you use a passage, mention the document it came from.`

const contextSeparator = "\n\n---\n\n"

// BuildMessages assembles the chat prompt: instructions, prior turns, the
// retrieved context and finally the question.
func BuildMessages(question string, history []models.ChatMessage, passages []vectorstore.SearchResult) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})

	for _, m := range history {
		role := llm.RoleUser
		if m.Role == models.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}

	messages = append(messages,
		llm.Message{Role: llm.RoleUser, Content: "Context from documents:\n\n" + BuildContext(passages)},
		llm.Message{Role: llm.RoleUser, Content: question},
	)
	return messages
}

// BuildContext formats passages as "[<filename>]\n<text>" blocks.
func BuildContext(passages []vectorstore.SearchResult) string {
	blocks := make([]string, len(passages))
	for i, p := range passages {
		blocks[i] = fmt.Sprintf("[%s]\n%s", p.FileName, p.Content)
	}
	return strings.Join(blocks, contextSeparator)
}

const titlePrompt = `Summarize the user's message as a chat title of 3 to 5 words.
Reply with the title only, without quotes or punctuation at the end.`

func TitleMessages(firstMessage string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: titlePrompt},
		{Role: llm.RoleUser, Content: firstMessage},
	}
}
