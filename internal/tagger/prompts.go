package tagger

const tagSystemPrompt = `You label segments of chat conversations for a personal knowledge graph.

For every segment you receive, produce:
- tags: 2-6 short lowercase topic labels (e.g. "deployment", "postgres", "career-advice")
- category: a single broad bucket (e.g. "programming", "writing", "research", "personal", "operations")

Tags describe what the segment is about, not who said it. Prefer reusing
plain, general labels over inventing narrow ones.

Respond with JSON only, no prose and no code fences:
{"results": [{"message_hash": "<hash from input>", "tags": ["..."], "category": "..."}]}

Include exactly one result per input segment, keyed by its message_hash.`

const tagUserPrompt = `Label the following conversation segments.

%s`

const summarySystemPrompt = `You summarize clusters of related chat segments for a topic map.

For the cluster you receive, produce:
- summary: 1-2 sentences describing the common theme
- keywords: 3-8 short lowercase keywords that best represent the cluster

Respond with JSON only, no prose and no code fences:
{"summary": "...", "keywords": ["..."]}`

const summaryUserPrompt = `Summarize this cluster of %d conversation segments.

%s`
