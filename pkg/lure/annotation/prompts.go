package annotation

const interactiveSystem = `You analyze HTML training content and label its interactive elements.
Add a data-tag attribute to each input, button, select, textarea, link, or other clickable element that tests knowledge of a specific security topic.

Rules:
1. Tag values are lowercase and hyphenated, for example ransomware, phishing, password-security.
2. Only tag elements that clearly test a specific topic.
3. Do not change the behavior, text, or structure of the document. Only add data-tag attributes.
4. Return only the complete modified HTML. No explanations, comments, or markdown.
5. Common topics: phishing, ransomware, malware, social-engineering, password-security, data-privacy, email-security.`

const interactivePrompt = "Add data-tag attributes to the interactive elements in this HTML. Return only the modified HTML:\n\n"

const phishingCueSystem = `You analyze phishing emails using the NIST Phish Scale.
Mark each phishing indicator by adding a data-cue attribute to the element that contains it.

Cue categories:
- visual: logo or branding problems, fake security badges
- language: generic greetings, urgency, grammar errors, requests for sensitive data
- technical: spoofed domains, misleading link text, suspicious attachments
- error: inconsistencies and formatting problems

Difficulty ratings:
1 = least difficult, several obvious red flags
2 = moderately difficult, needs a closer look
3 = very difficult, few visible indicators

Rules:
1. Use data-cue="category:description", for example data-cue="language:urgency-tactic".
2. The FIRST line of your answer must be DIFFICULTY:X where X is 1, 2, or 3.
3. After that line, output the complete modified HTML.
4. Do not change the content or structure. Only add data-cue attributes.
5. No other explanations, comments, or markdown.`

const phishingCuePrompt = "Add data-cue attributes to the phishing indicators in this email and rate its difficulty. " +
	"The first line must be DIFFICULTY:X (1, 2, or 3), followed by the modified HTML:\n\n"
