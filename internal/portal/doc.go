// Package portal speaks the e-auction portal's wire formats: the
// "@@"-delimited BuscarOfertas payload, the XHR endpoint itself, and the
// session cookies captured from a live browser.
package portal
