package collab

import (
	"fmt"
	"strings"

	"github.com/metalagman/lessonloop/internal/content"
	"github.com/metalagman/lessonloop/internal/quality"
)

func generatorInstructions(docKind string) string {
	var b strings.Builder
	b.WriteString("You are an experienced teacher writing one section of a larger document.\n")
	switch docKind {
	case content.KindLessonCards:
		b.WriteString("- The document is a deck of lesson cards. Each item is one card: 'prompt' is the card front, 'answer' the back.\n")
	default:
		b.WriteString("- The document is an exam paper. Each item is one question with a complete answer key entry.\n")
	}
	b.WriteString("- The input describes the section in 'unit.section' and the whole document in 'context'.\n")
	b.WriteString("- Write exactly 'unit.section.count' items of kind 'unit.section.item_kind'.\n")
	b.WriteString("- Respect the difficulty mix and topics when given. Give every item 'points_each' points.\n")
	b.WriteString("- Number items starting at 'unit.start_number'.\n")
	b.WriteString("- When the section asks for figures, attach a 'figure' object to that many items with 'type' one of ")
	b.WriteString("function_plot, geometry_plot, coordinate_plot, stat_chart, scene_image and its drawing parameters in 'data'.\n")
	b.WriteString("- If 'directive.kind' is 'refine', keep the previous attempt's structure and apply every entry of 'directive.specific_changes'.\n")
	b.WriteString("- If 'directive.kind' is 'overhaul', start over and avoid every entry of 'directive.critical_issues'.\n")
	b.WriteString("- Respond with a single JSON object: {\"title\", \"instructions\", \"items\": [...], \"summary\": {\"total_items\", \"total_points\"}}.\n")
	b.WriteString("- Output only JSON. No prose, no markdown fences.\n")
	return b.String()
}

func criticInstructions(threshold float64) string {
	var b strings.Builder
	b.WriteString("You are a strict reviewer of educational content. Judge one section against its specification.\n")
	fmt.Fprintf(&b, "- Score each dimension from 0 to 1: %s.\n", strings.Join(quality.Dimensions, ", "))
	b.WriteString("- 'final_score' is your overall score from 0 to 1.\n")
	fmt.Fprintf(&b, "- The current acceptance bar is %.2f.\n", threshold)
	b.WriteString("- Use decision ACCEPT or ACCEPT_WITH_NOTES when the section is ready, REFINE when targeted edits will fix it, ")
	b.WriteString("REJECT when it must be rewritten (wrong topic, wrong grade level, wrong item kind, broken answer key).\n")
	b.WriteString("- List concrete edits in 'specific_changes' and blocking problems in 'critical_issues'.\n")
	b.WriteString("- Respond with a single JSON object: {\"decision\", \"final_score\", \"dimension_scores\", \"strengths\", ")
	b.WriteString("\"improvements\", \"specific_changes\", \"critical_issues\", \"notes\"}.\n")
	b.WriteString("- Output only JSON. No prose, no markdown fences.\n")
	return b.String()
}

func documentCriticInstructions(threshold float64) string {
	var b strings.Builder
	b.WriteString("You are reviewing a complete assembled document made of independently written sections.\n")
	b.WriteString("- Check coherence across sections: repeated questions, inconsistent notation, difficulty balance, coverage of the subject.\n")
	b.WriteString("- Do not re-judge each section in isolation; those were already reviewed.\n")
	fmt.Fprintf(&b, "- Score each dimension from 0 to 1: %s.\n", strings.Join(quality.Dimensions, ", "))
	fmt.Fprintf(&b, "- The current acceptance bar is %.2f.\n", threshold)
	b.WriteString("- Use decision ACCEPT, ACCEPT_WITH_NOTES, REFINE or REJECT. Edits in 'specific_changes' are sent to every section writer.\n")
	b.WriteString("- Respond with a single JSON object using the same fields as a section review.\n")
	b.WriteString("- Output only JSON. No prose, no markdown fences.\n")
	return b.String()
}
