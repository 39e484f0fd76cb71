package dezoomer

// StandardRegistry returns every built-in dezoomer in the fixed auto-
// detection order (§4.5.2: "auto mode tries each in a fixed order").
// Narrower, magic-byte/URL-shaped formats are tried before the
// maximally permissive ones (Generic's bare template, BulkText's
// any-line-with-a-URL) so those never shadow a more specific match.
func StandardRegistry() []Dezoomer {
	return []Dezoomer{
		Zoomify{},
		DeepZoom{},
		IIIF{},
		Krpano{},
		PFF{},
		IIPImage{},
		NYPL{},
		GoogleArtsAndCulture{},
		Generic{},
		BulkText{},
	}
}
