package sources

const (
	WorldGeoJSONURL = "https://raw.githubusercontent.com/holtzy/D3-graph-gallery/master/DATA/world.geojson"
	USStatesURL     = "https://raw.githubusercontent.com/PublicaMundi/MappingAPI/master/data/geojson/us-states.json"
	NigeriaLGAURL   = "https://raw.githubusercontent.com/qedsoftware/geojson_data/master/nigeria-lga.geojson"
)
