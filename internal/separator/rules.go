package separator

import "regexp"

// Kind groups separator rules. Lower kinds take priority.
type Kind int

const (
	HeaderPattern Kind = iota
	VisualSeparator
	ExplicitMarker
	PlatformArtifact
	LocalizedWrote
)

func (k Kind) String() string {
	switch k {
	case HeaderPattern:
		return "header"
	case VisualSeparator:
		return "visual"
	case ExplicitMarker:
		return "marker"
	case PlatformArtifact:
		return "platform"
	case LocalizedWrote:
		return "localized"
	default:
		return "unknown"
	}
}

// Rule is a single boundary pattern.
type Rule struct {
	Name    string
	Kind    Kind
	Pattern *regexp.Regexp
}

func lineRule(name string, kind Kind, expr string) Rule {
	return Rule{Name: name, Kind: kind, Pattern: regexp.MustCompile(`(?i)` + expr)}
}

func textRule(name string, kind Kind, expr string) Rule {
	return Rule{Name: name, Kind: kind, Pattern: regexp.MustCompile(`(?im)` + expr)}
}

// Line rules are applied to one line at a time while scanning a body top to
// bottom.
var defaultLineRules = []Rule{
	lineRule("on-wrote", HeaderPattern, `^[>\s]*On .{0,300}?wrote:?\s*$`),
	lineRule("at-wrote", HeaderPattern, `^[>\s]*At .{0,300}?wrote:?\s*$`),
	lineRule("from-header", HeaderPattern, `^From:\s*.+$`),
	lineRule("sent-header", HeaderPattern, `^Sent:\s*.+$`),
	lineRule("to-header", HeaderPattern, `^To:\s*.+$`),
	lineRule("subject-header", HeaderPattern, `^Subject:\s*.+$`),
	lineRule("date-header", HeaderPattern, `^Date:\s*.+$`),
	lineRule("cc-header", HeaderPattern, `^Cc:\s*.+$`),
	lineRule("bcc-header", HeaderPattern, `^Bcc:\s*.+$`),

	lineRule("underscores", VisualSeparator, `^_{2,}\s*$`),
	lineRule("dashes", VisualSeparator, `^-{2,}\s*$`),
	lineRule("equals", VisualSeparator, `^={2,}\s*$`),
	lineRule("asterisks", VisualSeparator, `^\*{2,}\s*$`),

	lineRule("original-message", ExplicitMarker, `^-*\s*Original Message\s*-*$`),
	lineRule("forwarded-message", ExplicitMarker, `^-*\s*Forwarded Message\s*-*$`),

	lineRule("reacted-to-message", PlatformArtifact, `.+reacted to your message\s*[_:]+$`),
	lineRule("reacted-via", PlatformArtifact, `.+reacted via .+$`),
	lineRule("gmail-reaction", PlatformArtifact, `.+?reacted via Gmail`),
	lineRule("gmail-reaction-zh", PlatformArtifact, `.+?已通过 Gmail\s*做出回应`),
	lineRule("gmail-reaction-ko", PlatformArtifact, `.+?님이 Gmail\s*을 통해 반응함`),
	lineRule("sender-identification", PlatformArtifact, `\[ at https://aka\.ms/LearnAboutSenderIdentification \]`),

	lineRule("wrote-zh-hans", LocalizedWrote, `^.+?写道：\s*$`),
	lineRule("wrote-zh-hant", LocalizedWrote, `^.+?寫道：\s*$`),
	lineRule("wrote-de", LocalizedWrote, `^.+?schrieb\s*:?\s*$`),
	lineRule("wrote-de-name", LocalizedWrote, `^Am .+? schrieb .+?:\s*$`),
	lineRule("wrote-fr", LocalizedWrote, `^.+?a écrit\s*:?\s*$`),
	lineRule("wrote-es", LocalizedWrote, `^.+?escribió\s*:?\s*$`),
	lineRule("wrote-ja", LocalizedWrote, `^.+?に返信しました[：:]?\s*$`),
	lineRule("wrote-ko", LocalizedWrote, `^.+?에게 답장했습니다[：:]?\s*$`),
}

// Text rules are searched for anywhere in a reconstructed body. The first
// rule in rank order that matches decides the cut.
var defaultTextRules = []Rule{
	textRule("on-wrote", HeaderPattern, `On .+? wrote:`),
	textRule("on-wrote-eol", HeaderPattern, `On .+? wrote$`),
	textRule("at-wrote", HeaderPattern, `At .+?, .+? wrote:`),
	textRule("at-wrote-eol", HeaderPattern, `At .+?, .+? wrote$`),
	textRule("from-sent-to-subject", HeaderPattern, `From: .+? Sent: .+? To: .+? Subject:`),
	textRule("from-date-to-subject", HeaderPattern, `From: .+? Date: .+? To: .+? Subject:`),

	textRule("underscores", VisualSeparator, `_{3,}`),
	textRule("dashes", VisualSeparator, `-{3,}`),
	textRule("equals", VisualSeparator, `={3,}`),
	textRule("asterisks", VisualSeparator, `\*{3,}`),

	textRule("original-message", ExplicitMarker, `Original Message`),
	textRule("forwarded-message", ExplicitMarker, `Forwarded message`),

	textRule("reacted-to-message", PlatformArtifact, `.+?reacted to your message:`),
	textRule("reacted-to-message-eol", PlatformArtifact, `.+?reacted to your message$`),

	textRule("wrote-zh-hans-dash", LocalizedWrote, `在 \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}，.+?写道：`),
	textRule("wrote-zh-hant", LocalizedWrote, `於 \d{4}年\d{1,2}月\d{1,2}日 .+?寫道：`),
	textRule("wrote-zh-time", LocalizedWrote, `\d{4}年\d{1,2}月\d{1,2}日 \d{2}:\d{2}，.+?写道：`),
	textRule("wrote-zh-seconds", LocalizedWrote, `\d{4}年\d{1,2}月\d{1,2}日 \d{2}:\d{2}:\d{2}，.+?写道：`),
	textRule("wrote-de", LocalizedWrote, `Am .+? schrieb .+?:`),
	textRule("wrote-de-eol", LocalizedWrote, `Am .+? schrieb .+?$`),
	textRule("wrote-fr", LocalizedWrote, `Le .+? a écrit :`),
	textRule("wrote-fr-eol", LocalizedWrote, `Le .+? a écrit$`),
	textRule("wrote-es", LocalizedWrote, `El .+? escribió:`),
	textRule("wrote-es-eol", LocalizedWrote, `El .+? escribió$`),
	textRule("wrote-ja", LocalizedWrote, `.+?が .+? に返信しました：`),
	textRule("wrote-ja-eol", LocalizedWrote, `.+?が .+? に返信しました$`),
	textRule("wrote-ko", LocalizedWrote, `.+?님이 .+?에게 답장했습니다：`),
	textRule("wrote-ko-eol", LocalizedWrote, `.+?님이 .+?에게 답장했습니다$`),
}
