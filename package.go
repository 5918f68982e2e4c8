//
// web service that keeps the question map of an LMS in step with the
// content packages it hosts.
// each package ships an assessment index (json) listing the questions,
// polls, question sets, surveys and assignments attached to its pages.
// the service reconciles that index against the registered items when a
// package is added, replaced or removed, preserving items instructors
// have edited (locked) and the audit history attached to them.
//
package otfassess
