/*
	Package wsi holds the definitions shared by every layer of wsipatch: logging,
	store configuration, sentinel errors, 2d geometry used for annotation regions,
	and the serialization envelope applied to stored values.

	Nothing in this package knows about a particular slide reader or storage
	engine.  Those live in the slide and storage packages and import wsi.
*/
package wsi
