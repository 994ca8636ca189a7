// Package rewrite post-processes transcript text on its way back to the
// client.
//
// A rewrite rules file is an ordered list of entries, each with a list of
// trigger phrases ("any") and a replacement ("set"). Matching is tolerant of
// the junk STT engines produce around short utterances: both the transcript
// and the trigger phrases are compared in a compacted form with punctuation,
// whitespace, and case stripped, so "전등 꺼", "전, 등, 꺼" and "전등꺼?" all
// hit the same rule. The first matching rule wins; an unmatched transcript
// still gets basic normalization (punctuation and whitespace cleanup).
//
// The rules file is re-checked by modification time on use, so operators can
// edit phrases without restarting the proxy. A file that fails to parse
// leaves the previous rules in place.
package rewrite
