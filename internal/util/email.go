package util

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// EmailCheck is the result of validating an email address. When the address
// is invalid, Reason explains what is wrong and Suggestion, if non-empty,
// holds a likely correction the user can accept.
type EmailCheck struct {
	Valid      bool
	Reason     string
	Suggestion string
}

// knownProviderFix maps misspelled provider fragments to their domain.
// Order matters: more specific typos are checked before shorter ones.
var knownProviderFix = []struct {
	fragment string
	domain   string
}{
	{"gmaill", "gmail.com"},
	{"gamail", "gmail.com"},
	{"gmail", "gmail.com"},
	{"yahoo", "yahoo.com"},
	{"hotmail", "hotmail.com"},
}

// ValidateEmail checks an address and, when it is malformed in a recognizable
// way (missing @, missing dot in the domain, comma for dot, a misspelled
// provider), proposes a correction.
func ValidateEmail(email string) EmailCheck {
	if emailRegex.MatchString(email) {
		return EmailCheck{Valid: true}
	}

	check := EmailCheck{Reason: "Invalid email format."}

	switch {
	case !strings.Contains(email, "@"):
		check.Reason = "Missing '@' symbol in email address."
		check.Suggestion = suggestForMissingAt(email)

	case !strings.Contains(domainPart(email), "."):
		check.Reason = "Missing '.' in domain part of email."
		username, domain := splitAddress(email)
		if fixed, ok := providerFix(domain); ok {
			check.Suggestion = username + "@" + fixed
		} else {
			check.Suggestion = username + "@" + domain + ".com"
		}

	case strings.Contains(email, ","):
		check.Reason = "Email contains a comma (,) which should be a period (.)."
		check.Suggestion = strings.ReplaceAll(email, ",", ".")

	default:
		username, domain := splitAddress(email)
		host, rest, _ := strings.Cut(domain, ".")
		for _, typo := range []string{"gamail", "gmaill", "gmal"} {
			if strings.Contains(host, typo) {
				check.Reason = "Did you mean 'gmail' instead of '" + typo + "'?"
				fixed := strings.Replace(host, typo, "gmail", 1)
				if rest != "" {
					fixed += "." + rest
				}
				check.Suggestion = username + "@" + fixed
				break
			}
		}
	}

	return check
}

// suggestForMissingAt handles addresses like "john.gamail.com" where the user
// typed a dot instead of the @ separator.
func suggestForMissingAt(email string) string {
	parts := strings.Split(email, ".")
	if len(parts) < 2 {
		return ""
	}
	providerHint := parts[0]
	if len(parts) > 2 {
		providerHint = parts[len(parts)-2]
	}
	if fixed, ok := providerFix(providerHint); ok {
		return parts[0] + "@" + fixed
	}
	return parts[0] + "@" + strings.Join(parts[1:], ".")
}

func providerFix(domain string) (string, bool) {
	for _, p := range knownProviderFix {
		if strings.Contains(domain, p.fragment) {
			return p.domain, true
		}
	}
	return "", false
}

func splitAddress(email string) (username, domain string) {
	username, domain, _ = strings.Cut(email, "@")
	return username, domain
}

func domainPart(email string) string {
	_, domain, _ := strings.Cut(email, "@")
	return domain
}
