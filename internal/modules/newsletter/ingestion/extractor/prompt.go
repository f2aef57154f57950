package extractor

import "strings"

const systemPrompt = "You are an expert entity extractor. Return only valid JSON."

const userPromptTemplate = `
You are an expert at extracting structured information from newsletter content.
Extract entities from the following newsletter text and classify them into these categories:

**Entity Types:**
- **Organization**: Companies, institutions, government bodies
- **Person**: Individuals mentioned in content
- **Product**: Software, hardware, services, models
- **Event**: Conferences, announcements, launches
- **Location**: Geographic locations (cities, countries, regions)
- **Topic**: Subject areas, technologies, fields of study

**Instructions:**
1. Extract entities with high confidence (>0.7)
2. Provide alternative names/aliases if mentioned
3. Include context where the entity was mentioned
4. Rate confidence from 0.0 to 1.0
5. Return results as valid JSON

**Newsletter Content:**
{content}

**Required JSON Format:**
` + "```json" + `
{
  "entities": [
    {
      "name": "Entity Name",
      "type": "Organization|Person|Product|Event|Location|Topic",
      "aliases": ["Alternative Name 1", "Alternative Name 2"],
      "confidence": 0.95,
      "context": "The sentence or phrase where this entity was mentioned",
      "properties": {
        "additional_info": "any relevant details"
      }
    }
  ]
}
` + "```" + `

Return only valid JSON, no additional text.
`

func buildUserPrompt(content string) string {
	return strings.Replace(userPromptTemplate, "{content}", content, 1)
}

// truncate cuts content to max runes and marks the cut with "...".
func truncate(content string, max int) (string, bool) {
	if max <= 0 {
		return content, false
	}
	r := []rune(content)
	if len(r) <= max {
		return content, false
	}
	return string(r[:max]) + "...", true
}
