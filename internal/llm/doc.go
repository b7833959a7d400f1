// Package llm talks to the external reasoning service. Every call is a
// bounded choose-one question: the caller offers a fixed option set and the
// answer must name one of those options (or declare that none fit), validated
// against a JSON Schema contract. It supports Anthropic, OpenAI and Gemini
// providers with rate limiting and backoff on rate-limit or overload responses.
package llm
