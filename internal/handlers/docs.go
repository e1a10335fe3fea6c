package handlers

import (
	"net/http"

	"github.com/goccy/go-json"
)

func queryParam(name, description, typ string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      map[string]string{"type": typ},
	}
}

var tokenParam = map[string]interface{}{
	"name":        "token",
	"in":          "query",
	"description": "API token issued by POST /api/v1/new-user",
	"required":    true,
	"schema":      map[string]string{"type": "string"},
}

var boxParams = []map[string]interface{}{
	tokenParam,
	queryParam("bLat", "Bottom latitude of the bounding box", "number"),
	queryParam("tLat", "Top latitude of the bounding box", "number"),
	queryParam("lLong", "Left longitude of the bounding box", "number"),
	queryParam("rLong", "Right longitude of the bounding box", "number"),
	queryParam("limit", "Cap the result count (true/false)", "boolean"),
}

func ref(name string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + name}
}

func arrayOf(name string) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": ref(name)}
}

func jsonBody(schema interface{}) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schema},
		},
	}
}

func responses(ok interface{}, codes ...string) map[string]interface{} {
	out := map[string]interface{}{
		"200": map[string]interface{}{
			"description": "Successful response",
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{"schema": ok},
			},
		},
	}
	descriptions := map[string]string{
		"400": "No input data provided or incorrect data format",
		"403": "Token lacks write permission",
		"405": "Token missing or unknown",
		"417": "Token email already sent within the last 24 hours",
		"503": "Forecast model unavailable",
	}
	for _, code := range codes {
		out[code] = map[string]interface{}{
			"description": descriptions[code],
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{"schema": ref("Error")},
			},
		}
	}
	return out
}

func operation(summary string, params []map[string]interface{}, body, ok interface{}, codes ...string) map[string]interface{} {
	op := map[string]interface{}{
		"summary":    summary,
		"parameters": params,
		"responses":  responses(ok, codes...),
	}
	if body != nil {
		op["requestBody"] = jsonBody(body)
	}
	return op
}

func buildOpenAPISpec() map[string]interface{} {
	tokenOnly := []map[string]interface{}{tokenParam}
	historicParams := append([]map[string]interface{}{
		queryParam("start", "First date (YYYY-MM-DD)", "string"),
		queryParam("end", "Last date (YYYY-MM-DD)", "string"),
	}, boxParams...)
	message := ref("Message")

	return map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "OpenAQI API",
			"description": "Air quality index measurements, historic records, forecasts and model inference",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			APIPrefix + "/current": map[string]interface{}{
				"get":    operation("Current AQI measurements", boxParams, nil, arrayOf("Measurement"), "405"),
				"post":   operation("Insert current measurements", tokenOnly, arrayOf("Measurement"), message, "400", "403", "405"),
				"delete": operation("Delete all current measurements", tokenOnly, nil, message, "403", "405"),
			},
			APIPrefix + "/historic-data": map[string]interface{}{
				"get":  operation("Historic AQI measurements", historicParams, nil, arrayOf("Measurement"), "405"),
				"post": operation("Insert historic measurements", tokenOnly, arrayOf("Measurement"), message, "400", "403", "405"),
			},
			APIPrefix + "/forecasts": map[string]interface{}{
				"get":   operation("Forecasts from today onward", boxParams, nil, arrayOf("Forecast"), "405"),
				"post":  operation("Insert forecasts", tokenOnly, arrayOf("Forecast"), message, "400", "403", "405"),
				"patch": operation("Append predictions and set realized AQI", tokenOnly, ref("ForecastPatch"), message, "400", "403", "405"),
			},
			APIPrefix + "/model-data": map[string]interface{}{
				"post": operation("Historic series for model input", tokenOnly, arrayOf("ModelDataQuery"), arrayOf("Measurement"), "400", "403", "405"),
			},
			APIPrefix + "/predict": map[string]interface{}{
				"post": operation("Run the forecast model on 30-day windows", tokenOnly, ref("PredictionRequest"), ref("PredictionResponse"), "400", "403", "405", "503"),
			},
			APIPrefix + "/new-user": map[string]interface{}{
				"post": operation("Request or retrieve an API token by email", tokenOnly, ref("NewUserRequest"), message, "400", "405", "417"),
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Health check",
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Service is healthy"},
						"503": map[string]string{"description": "Database unreachable"},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Location": map[string]interface{}{
					"type":     "object",
					"required": []string{"Lat", "Long"},
					"properties": map[string]interface{}{
						"Lat":        map[string]string{"type": "number"},
						"Long":       map[string]string{"type": "number"},
						"CBSA_Code":  map[string]string{"type": "integer"},
						"City":       map[string]string{"type": "string"},
						"State":      map[string]string{"type": "string"},
						"Site_Name":  map[string]string{"type": "string"},
						"Full_AQSID": map[string]string{"type": "string"},
						"Population": map[string]string{"type": "number"},
						"Density":    map[string]string{"type": "number"},
						"Timezone":   map[string]string{"type": "string"},
					},
				},
				"Measurement": map[string]interface{}{
					"type":     "object",
					"required": []string{"Date", "AQI", "Defining_Parameter", "Location"},
					"properties": map[string]interface{}{
						"Date":                      map[string]string{"type": "string", "format": "date"},
						"AQI":                       map[string]string{"type": "integer"},
						"Category":                  map[string]string{"type": "string"},
						"Defining_Parameter":        map[string]string{"type": "string"},
						"Number_of_Sites_Reporting": map[string]string{"type": "integer"},
						"Location":                  ref("Location"),
					},
				},
				"Prediction": map[string]interface{}{
					"type":     "object",
					"required": []string{"Days_in_Advance", "Pred_AQI"},
					"properties": map[string]interface{}{
						"Days_in_Advance": map[string]string{"type": "integer"},
						"Pred_AQI":        map[string]string{"type": "integer"},
						"Pred_Category":   map[string]string{"type": "string"},
					},
				},
				"Forecast": map[string]interface{}{
					"type":     "object",
					"required": []string{"Date", "Location"},
					"properties": map[string]interface{}{
						"Date":          map[string]string{"type": "string", "format": "date"},
						"Location":      ref("Location"),
						"Predictions":   arrayOf("Prediction"),
						"Real_AQI":      map[string]string{"type": "integer"},
						"Real_Category": map[string]string{"type": "string"},
					},
				},
				"ForecastPatch": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"Predictions": arrayOf("Forecast"),
						"Actual":      arrayOf("Measurement"),
					},
				},
				"ModelDataQuery": map[string]interface{}{
					"type":     "object",
					"required": []string{"Start", "End", "Location"},
					"properties": map[string]interface{}{
						"Start":    map[string]string{"type": "string", "format": "date"},
						"End":      map[string]string{"type": "string", "format": "date"},
						"Location": ref("Location"),
					},
				},
				"PredictionRequest": map[string]interface{}{
					"type":     "object",
					"required": []string{"data"},
					"properties": map[string]interface{}{
						"data": map[string]interface{}{
							"type": "array",
							"items": map[string]interface{}{
								"type":     "array",
								"minItems": 30,
								"maxItems": 30,
								"items":    map[string]string{"type": "integer"},
							},
						},
					},
				},
				"PredictionResponse": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"Predictions": map[string]interface{}{
							"type":  "array",
							"items": map[string]string{"type": "integer"},
						},
					},
				},
				"NewUserRequest": map[string]interface{}{
					"type":     "object",
					"required": []string{"email"},
					"properties": map[string]interface{}{
						"email": map[string]string{"type": "string", "format": "email"},
					},
				},
				"Message": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"message": map[string]string{"type": "string"},
					},
				},
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   map[string]string{"type": "string"},
						"message": map[string]string{"type": "string"},
						"code":    map[string]string{"type": "integer"},
						"details": map[string]string{"type": "string"},
					},
				},
			},
		},
	}
}

// OpenAPISpec returns the OpenAPI 3.0 document for the AQI API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(buildOpenAPISpec())
}
