package parsing

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	wealthsimpleOrderID = regexp.MustCompile(`\bWS-\d{6,}\b`)
	labeledOrderID      = regexp.MustCompile(`(?i)\border\s*(?:id|#|number|no\.?)\s*[:#]?\s*([A-Z0-9][A-Z0-9\-]{3,})`)
	labeledConfirmation = regexp.MustCompile(`(?i)\bconfirmation\s*(?:number|#|no\.?|code|id)?\s*[:#]\s*([A-Z0-9][A-Z0-9\-]{3,})`)
	labeledReference    = regexp.MustCompile(`(?i)\b(?:reference|ref)\s*(?:number|#|no\.?)?\s*[:#]\s*([A-Z0-9][A-Z0-9\-]{3,})`)
)

// extractIdentifiers finds order ids and confirmation numbers anywhere in
// text. Captures without a digit are discarded as prose.
func extractIdentifiers(text string) (orderIDs, confirmations []string) {
	for _, m := range wealthsimpleOrderID.FindAllString(text, -1) {
		orderIDs = append(orderIDs, m)
	}
	for _, m := range labeledOrderID.FindAllStringSubmatch(text, -1) {
		if id := cleanIdentifier(m[1]); id != "" {
			orderIDs = append(orderIDs, id)
		}
	}
	for _, re := range []*regexp.Regexp{labeledConfirmation, labeledReference} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if id := cleanIdentifier(m[1]); id != "" {
				confirmations = append(confirmations, id)
			}
		}
	}
	return orderIDs, confirmations
}

func cleanIdentifier(id string) string {
	id = strings.Trim(strings.TrimSpace(id), "-")
	if id == "" || !strings.ContainsFunc(id, unicode.IsDigit) {
		return ""
	}
	return strings.ToUpper(id)
}
