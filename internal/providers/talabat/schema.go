package talabat

import "orderhub/internal/providers/payload"

var orderSchema = payload.MustSchema(`{
  "type": "object",
  "required": ["orderId", "customer", "products", "price"],
  "properties": {
    "orderId": {"type": "string", "minLength": 1},
    "vendorId": {"type": "string"},
    "status": {"type": "string"},
    "expeditionType": {"type": "string", "enum": ["delivery", "pickup"]},
    "customer": {"type": "object"},
    "deliveryAddress": {"type": "object"},
    "products": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "quantity", "price"],
        "properties": {
          "name": {"type": "string"},
          "quantity": {"type": "integer"},
          "price": {
            "type": "object",
            "properties": {"unitPrice": {"type": "number"}, "totalPrice": {"type": "number"}}
          }
        }
      }
    },
    "price": {
      "type": "object",
      "required": ["subTotal", "grandTotal"],
      "properties": {
        "subTotal": {"type": "number"},
        "deliveryFee": {"type": "number"},
        "vat": {"type": "number"},
        "discount": {"type": "number"},
        "grandTotal": {"type": "number"}
      }
    }
  }
}`)

var statusSchema = payload.MustSchema(`{
  "type": "object",
  "required": ["orderId", "status"],
  "properties": {
    "orderId": {"type": "string", "minLength": 1},
    "status": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string"},
    "rider": {"type": "object"}
  }
}`)
