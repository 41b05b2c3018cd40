// Package pdf renders pipeline documents as PDF files: Markdown narratives,
// structured stage output used when a narrative is unavailable, and
// student error reports. Markdown is parsed with goldmark and drawn with
// fpdf core fonts; text is translated to the cp1252 code page so accented
// characters survive.
package pdf
