// Package pdfdoc inspects and rewrites PDF uploads with pdfcpu.
//
// Inspect reports page count and the active-content markers that make a
// document unsafe to publish regardless of its visual content: embedded
// files, an automatic open action, JavaScript, launch actions, and
// javascript: links. Images yields each embedded raster image once per
// page. StripMetadata removes the document information dictionary and XMP
// metadata through a temporary sibling file and an atomic rename.
package pdfdoc
