package mockserver

import (
	"bytes"
	"context"
	"fmt"

	"aihelper-go/internal/model"
	"aihelper-go/pkg/llm"
	"aihelper-go/pkg/tika"
)

// LLMReplier 把会话历史转成 role-based 消息交给大模型，图片的 OCR 文本拼在用户消息后面。
func LLMReplier(client llm.Client, systemPrompt string) Replier {
	return func(ctx context.Context, history []model.Message, deepThinking bool) (string, string, error) {
		msgs := make([]llm.Message, 0, len(history)+1)
		if systemPrompt != "" {
			msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})
		}
		for _, m := range history {
			content := m.Content
			for _, img := range m.Images {
				content += fmt.Sprintf("\n[图片 %s 识别文字]\n%s", img.OriginalFileName, img.OCRText)
			}
			msgs = append(msgs, llm.Message{Role: string(m.Role), Content: content})
		}
		reply, err := client.ChatMessages(ctx, msgs, deepThinking)
		if err != nil {
			return "", "", err
		}
		return reply.Content, reply.ReasoningContent, nil
	}
}

// TikaOCR 用 Tika 识别图片文字。
func TikaOCR(client *tika.Client) OCR {
	return func(ctx context.Context, fileName string, data []byte) (string, error) {
		return client.ExtractText(ctx, bytes.NewReader(data), fileName)
	}
}
